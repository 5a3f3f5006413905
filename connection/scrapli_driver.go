package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlesren/ylog"
	"github.com/google/uuid"
	"github.com/scrapli/scrapligo/driver/opoptions"
	"github.com/scrapli/scrapligo/response"
	"github.com/scrapli/scrapligo/util"
)

const (
	privExec                   = "exec"
	privConfigurationExclusive = "configuration-exclusive"
)

// Junos CLI出现这些文本即视为配置语句被拒绝
var cliConfigErrors = []string{
	"error:",
	"syntax error",
	"unknown command",
	"missing argument",
	"invalid value",
}

// RPC到CLI命令的映射
var cliCommands = map[string]string{
	"get-bgp-neighbor-information": "show bgp neighbor",
	"get-bgp-summary-information":  "show bgp summary",
	"get-bgp-group-information":    "show bgp group",
}

// cliClient scrapligo network.Driver中用到的部分
type cliClient interface {
	SendCommand(command string, opts ...util.Option) (*response.Response, error)
	SendConfigs(configs []string, opts ...util.Option) (*response.MultiResponse, error)
	SendConfig(config string, opts ...util.Option) (*response.Response, error)
	AcquirePriv(target string) error
	Close() error
}

// ScrapliDriver Junos交互式CLI驱动。配置变更在configure exclusive下暂存，
// commit check校验，rollback 0丢弃。
type ScrapliDriver struct {
	host          string
	client        cliClient
	alive         func() bool
	commitTimeout time.Duration

	mu      sync.Mutex // 保证线程安全
	pending *ConfigHandle
	closed  atomic.Bool
}

func newScrapliDriver(host string, client cliClient, alive func() bool, commitTimeout time.Duration) *ScrapliDriver {
	return &ScrapliDriver{
		host:          host,
		client:        client,
		alive:         alive,
		commitTimeout: commitTimeout,
	}
}

func (d *ScrapliDriver) ProtocolType() Protocol {
	return ProtocolScrapli
}

func (d *ScrapliDriver) GetCapability() ProtocolCapability {
	return ScrapliCapability
}

func (d *ScrapliDriver) IsAlive() bool {
	if d.closed.Load() {
		return false
	}
	return d.alive == nil || d.alive()
}

func (d *ScrapliDriver) Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}
	// 在exclusive模式下执行show会触发退出配置模式的确认
	if d.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrChangePending, d.pending.ID)
	}

	cmd, err := cliCommand(req)
	if err != nil {
		return nil, err
	}
	ylog.Debugf("ScrapliDriver", "%s: %s", d.host, cmd)

	resp, err := d.client.SendCommand(cmd)
	if err != nil {
		return nil, mapScrapliError(err)
	}
	if resp.Failed != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRPCFailed, cmd, resp.Failed)
	}

	data := []byte(strings.TrimSpace(resp.Result))
	if req.Format == FormatXML {
		// display xml输出完整的rpc-reply
		if data, err = extractReplyPayload(data, FormatXML); err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return &ProtocolResponse{
		Success: true,
		Format:  req.Format,
		RawData: data,
	}, nil
}

func (d *ScrapliDriver) StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}
	if d.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrChangePending, d.pending.ID)
	}
	if change == nil || change.Format != FormatSet {
		return nil, ErrUnsupportedFormat
	}
	lines := configLines(change.Text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("config change cannot be empty")
	}

	// 其他会话持有配置锁时configure exclusive失败，此时没有任何暂存
	if err := d.client.AcquirePriv(privConfigurationExclusive); err != nil {
		if backErr := d.client.AcquirePriv(privExec); backErr != nil {
			ylog.Warnf("ScrapliDriver", "%s: return to exec: %v", d.host, backErr)
		}
		return nil, fmt.Errorf("enter configure exclusive: %w", mapScrapliError(err))
	}

	handle := &ConfigHandle{
		ID:       uuid.NewString(),
		Change:   *change,
		Protocol: ProtocolScrapli,
		StagedAt: time.Now(),
	}
	d.pending = handle

	mr, err := d.client.SendConfigs(lines,
		opoptions.WithPrivilegeLevel(privConfigurationExclusive),
		opoptions.WithFailedWhenContains(cliConfigErrors),
		opoptions.WithStopOnFailed(),
	)
	if err != nil {
		return handle, fmt.Errorf("load configuration: %w", mapScrapliError(err))
	}
	if mr.Failed != nil {
		return handle, fmt.Errorf("%w: load configuration: %s", ErrRPCFailed, failedOutput(mr))
	}

	ylog.Infof("ScrapliDriver", "%s: staged change %s (%d lines)", d.host, handle.ID, len(lines))
	return handle, nil
}

func (d *ScrapliDriver) Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(handle); err != nil {
		return nil, err
	}

	resp, err := d.client.SendConfig("commit check", opoptions.WithPrivilegeLevel(privConfigurationExclusive))
	if err != nil {
		return nil, mapScrapliError(err)
	}
	if strings.Contains(resp.Result, "configuration check succeeds") {
		return &ValidationResult{Passed: true}, nil
	}
	msgs := errorLines(resp.Result)
	if len(msgs) == 0 {
		msgs = []string{strings.TrimSpace(resp.Result)}
	}
	return &ValidationResult{Passed: false, Messages: msgs}, nil
}

func (d *ScrapliDriver) Commit(ctx context.Context, handle *ConfigHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(handle); err != nil {
		return err
	}

	opts := []util.Option{opoptions.WithPrivilegeLevel(privConfigurationExclusive)}
	if d.commitTimeout > 0 {
		opts = append(opts, opoptions.WithTimeoutOps(d.commitTimeout))
	}
	resp, err := d.client.SendConfig("commit", opts...)
	if err != nil {
		return mapScrapliError(err)
	}
	if !strings.Contains(resp.Result, "commit complete") {
		msgs := errorLines(resp.Result)
		if len(msgs) == 0 {
			msgs = []string{strings.TrimSpace(resp.Result)}
		}
		return fmt.Errorf("%w: commit: %s", ErrRPCFailed, strings.Join(msgs, "; "))
	}

	d.pending = nil
	d.returnToExec()
	ylog.Infof("ScrapliDriver", "%s: committed change %s", d.host, handle.ID)
	return nil
}

func (d *ScrapliDriver) Discard(ctx context.Context, handle *ConfigHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(handle); err != nil {
		return err
	}
	return d.discardPending()
}

func (d *ScrapliDriver) discardPending() error {
	resp, err := d.client.SendConfig("rollback 0", opoptions.WithPrivilegeLevel(privConfigurationExclusive))
	if err != nil {
		return fmt.Errorf("rollback 0: %w", mapScrapliError(err))
	}
	if lines := errorLines(resp.Result); len(lines) > 0 {
		return fmt.Errorf("%w: rollback 0: %s", ErrRPCFailed, strings.Join(lines, "; "))
	}
	ylog.Infof("ScrapliDriver", "%s: discarded change %s", d.host, d.pending.ID)
	d.pending = nil
	d.returnToExec()
	return nil
}

func (d *ScrapliDriver) returnToExec() {
	if err := d.client.AcquirePriv(privExec); err != nil {
		ylog.Warnf("ScrapliDriver", "%s: return to exec: %v", d.host, err)
	}
}

func (d *ScrapliDriver) checkHandle(handle *ConfigHandle) error {
	if d.closed.Load() {
		return ErrDriverClosed
	}
	if handle == nil || d.pending == nil || handle.ID != d.pending.ID {
		return ErrUnknownHandle
	}
	return nil
}

// Close 关闭连接
func (d *ScrapliDriver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.mu.TryLock() {
		if d.pending != nil {
			if err := d.discardPending(); err != nil {
				ylog.Warnf("ScrapliDriver", "%s: discard on close: %v", d.host, err)
			}
		}
		d.mu.Unlock()
	}
	return d.client.Close()
}

// cliCommand 把RPC请求翻译为show命令，参数按名称排序追加：有值追加值，无值追加名称
func cliCommand(req *ProtocolRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%w: nil request", ErrUnsupportedRPC)
	}
	base, ok := cliCommands[req.RPC]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRPC, req.RPC)
	}

	parts := []string{base}
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(req.Params[k])
		if v == "" {
			v = k
		}
		if strings.ContainsAny(v, " \t\r\n|;") {
			return "", fmt.Errorf("%w: invalid parameter %s", ErrUnsupportedRPC, k)
		}
		parts = append(parts, v)
	}

	switch req.Format {
	case FormatJSON:
		parts = append(parts, "| display json")
	case FormatXML:
		parts = append(parts, "| display xml")
	case FormatText, "":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	parts = append(parts, "| no-more")
	return strings.Join(parts, " "), nil
}

func configLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// errorLines 提取输出中的错误行
func errorLines(output string) []string {
	var out []string
	for _, l := range strings.Split(output, "\n") {
		l = strings.TrimSpace(l)
		lower := strings.ToLower(l)
		for _, marker := range cliConfigErrors {
			if strings.Contains(lower, marker) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

func failedOutput(mr *response.MultiResponse) string {
	for _, r := range mr.Responses {
		if r.Failed != nil {
			if lines := errorLines(r.Result); len(lines) > 0 {
				return fmt.Sprintf("%s: %s", r.Input, strings.Join(lines, "; "))
			}
			return fmt.Sprintf("%s: %v", r.Input, r.Failed)
		}
	}
	return fmt.Sprint(mr.Failed)
}

func mapScrapliError(err error) error {
	switch {
	case errors.Is(err, util.ErrTimeoutError):
		return fmt.Errorf("%w: %w", ErrOperationTimeout, err)
	case errors.Is(err, util.ErrConnectionError):
		return fmt.Errorf("%w: %w", ErrTransportLost, err)
	default:
		return err
	}
}
