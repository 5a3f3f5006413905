package connection

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
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

const candidateDatastore = "candidate"

var rpcNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// netconfClient scrapligo netconf.Driver中用到的部分
type netconfClient interface {
	RPC(opts ...util.Option) (*response.NetconfResponse, error)
	Lock(target string) (*response.NetconfResponse, error)
	Unlock(target string) (*response.NetconfResponse, error)
	Validate(source string) (*response.NetconfResponse, error)
	Commit(opts ...util.Option) (*response.NetconfResponse, error)
	Discard() (*response.NetconfResponse, error)
	Close() error
}

// NetconfDriver Junos NETCONF驱动。配置变更走 lock candidate -> load-configuration
// -> validate -> commit，失败时 discard-changes 并解锁。
type NetconfDriver struct {
	host          string
	client        netconfClient
	alive         func() bool
	commitTimeout time.Duration

	mu      sync.Mutex
	pending *ConfigHandle
	locked  bool
	closed  atomic.Bool
}

func newNetconfDriver(host string, client netconfClient, alive func() bool, commitTimeout time.Duration) *NetconfDriver {
	return &NetconfDriver{
		host:          host,
		client:        client,
		alive:         alive,
		commitTimeout: commitTimeout,
	}
}

func (d *NetconfDriver) ProtocolType() Protocol {
	return ProtocolNetconf
}

func (d *NetconfDriver) GetCapability() ProtocolCapability {
	return NetconfCapability
}

func (d *NetconfDriver) IsAlive() bool {
	if d.closed.Load() {
		return false
	}
	return d.alive == nil || d.alive()
}

func (d *NetconfDriver) Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}

	payload, err := buildNetconfRPC(req)
	if err != nil {
		return nil, err
	}
	ylog.Debugf("NetconfDriver", "%s: rpc %s", d.host, req.RPC)

	resp, err := d.client.RPC(opoptions.WithFilter(payload))
	if err != nil {
		return nil, mapNetconfError(err)
	}
	if err := replyError(resp); err != nil {
		return nil, fmt.Errorf("rpc %s: %w", req.RPC, err)
	}

	data, err := extractReplyPayload([]byte(resp.Result), req.Format)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", req.RPC, err)
	}
	return &ProtocolResponse{
		Success:  true,
		Format:   req.Format,
		RawData:  data,
		Warnings: replyMessages(resp.WarningErrorMessages),
	}, nil
}

func (d *NetconfDriver) StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}
	if d.pending != nil {
		return nil, fmt.Errorf("%w: %s", ErrChangePending, d.pending.ID)
	}

	rpc, err := loadConfigurationRPC(change)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Lock(candidateDatastore)
	if err != nil {
		return nil, fmt.Errorf("lock candidate: %w", mapNetconfError(err))
	}
	if err := replyError(resp); err != nil {
		return nil, fmt.Errorf("lock candidate: %w", err)
	}
	d.locked = true

	// 加锁成功后即视为已暂存，加载失败时调用方仍需Discard以解锁
	handle := &ConfigHandle{
		ID:       uuid.NewString(),
		Change:   *change,
		Protocol: ProtocolNetconf,
		StagedAt: time.Now(),
	}
	d.pending = handle

	resp, err = d.client.RPC(opoptions.WithFilter(rpc))
	if err != nil {
		return handle, fmt.Errorf("load configuration: %w", mapNetconfError(err))
	}
	if err := replyError(resp); err != nil {
		return handle, fmt.Errorf("load configuration: %w", err)
	}

	ylog.Infof("NetconfDriver", "%s: staged change %s (%s)", d.host, handle.ID, change.Format)
	return handle, nil
}

// Validate 设备拒绝时返回Passed=false，传输错误时返回error
func (d *NetconfDriver) Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(handle); err != nil {
		return nil, err
	}

	resp, err := d.client.Validate(candidateDatastore)
	if err != nil {
		return nil, mapNetconfError(err)
	}
	if len(resp.ErrorMessages) > 0 {
		return &ValidationResult{Passed: false, Messages: replyMessages(resp.ErrorMessages)}, nil
	}
	return &ValidationResult{Passed: true, Messages: replyMessages(resp.WarningErrorMessages)}, nil
}

func (d *NetconfDriver) Commit(ctx context.Context, handle *ConfigHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(handle); err != nil {
		return err
	}

	var opts []util.Option
	if d.commitTimeout > 0 {
		opts = append(opts, opoptions.WithTimeoutOps(d.commitTimeout))
	}
	resp, err := d.client.Commit(opts...)
	if err != nil {
		return mapNetconfError(err)
	}
	if err := replyError(resp); err != nil {
		return err
	}

	d.pending = nil
	d.unlock()
	ylog.Infof("NetconfDriver", "%s: committed change %s", d.host, handle.ID)
	return nil
}

func (d *NetconfDriver) Discard(ctx context.Context, handle *ConfigHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(handle); err != nil {
		return err
	}
	return d.discardPending()
}

func (d *NetconfDriver) discardPending() error {
	resp, err := d.client.Discard()
	if err != nil {
		return fmt.Errorf("discard changes: %w", mapNetconfError(err))
	}
	if err := replyError(resp); err != nil {
		return fmt.Errorf("discard changes: %w", err)
	}
	ylog.Infof("NetconfDriver", "%s: discarded change %s", d.host, d.pending.ID)
	d.pending = nil
	d.unlock()
	return nil
}

func (d *NetconfDriver) unlock() {
	if !d.locked {
		return
	}
	resp, err := d.client.Unlock(candidateDatastore)
	if err == nil {
		err = replyError(resp)
	}
	if err != nil {
		// 会话关闭时设备会释放锁
		ylog.Warnf("NetconfDriver", "%s: unlock candidate: %v", d.host, err)
		return
	}
	d.locked = false
}

func (d *NetconfDriver) checkHandle(handle *ConfigHandle) error {
	if d.closed.Load() {
		return ErrDriverClosed
	}
	if handle == nil || d.pending == nil || handle.ID != d.pending.ID {
		return ErrUnknownHandle
	}
	return nil
}

// Close 幂等。正在执行的调用持有锁时不等待，直接关闭传输
func (d *NetconfDriver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.mu.TryLock() {
		if d.pending != nil {
			if err := d.discardPending(); err != nil {
				ylog.Warnf("NetconfDriver", "%s: discard on close: %v", d.host, err)
			}
		}
		d.mu.Unlock()
	}
	return d.client.Close()
}

// buildNetconfRPC 生成RPC请求体，参数按名称排序
func buildNetconfRPC(req *ProtocolRequest) (string, error) {
	if req == nil || !rpcNamePattern.MatchString(req.RPC) {
		return "", fmt.Errorf("%w: invalid rpc name", ErrUnsupportedRPC)
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(req.RPC)
	switch req.Format {
	case FormatJSON, FormatText:
		fmt.Fprintf(&b, ` format="%s"`, req.Format)
	case FormatXML, "":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if len(req.Params) == 0 {
		b.WriteString("/>")
		return b.String(), nil
	}
	b.WriteString(">")

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		if !rpcNamePattern.MatchString(k) {
			return "", fmt.Errorf("%w: invalid parameter name %q", ErrUnsupportedRPC, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := req.Params[k]
		if v == "" {
			fmt.Fprintf(&b, "<%s/>", k)
			continue
		}
		fmt.Fprintf(&b, "<%s>", k)
		if err := xml.EscapeText(&b, []byte(v)); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "</%s>", k)
	}
	fmt.Fprintf(&b, "</%s>", req.RPC)
	return b.String(), nil
}

// loadConfigurationRPC Junos load-configuration请求
func loadConfigurationRPC(change *ConfigChange) (string, error) {
	if change == nil || strings.TrimSpace(change.Text) == "" {
		return "", fmt.Errorf("config change cannot be empty")
	}

	var escaped bytes.Buffer
	switch change.Format {
	case FormatSet:
		if err := xml.EscapeText(&escaped, []byte(change.Text)); err != nil {
			return "", err
		}
		return `<load-configuration action="set" format="text"><configuration-set>` +
			escaped.String() + `</configuration-set></load-configuration>`, nil
	case FormatText:
		if err := xml.EscapeText(&escaped, []byte(change.Text)); err != nil {
			return "", err
		}
		return `<load-configuration action="merge" format="text"><configuration-text>` +
			escaped.String() + `</configuration-text></load-configuration>`, nil
	case FormatXML:
		body := strings.TrimSpace(change.Text)
		if !strings.HasPrefix(body, "<configuration") {
			body = "<configuration>" + body + "</configuration>"
		}
		return `<load-configuration action="merge" format="xml">` + body + `</load-configuration>`, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, change.Format)
	}
}

type rpcReply struct {
	XMLName  xml.Name   `xml:"rpc-reply"`
	Errors   []rpcError `xml:"rpc-error"`
	Output   string     `xml:"output"`
	CharData string     `xml:",chardata"`
	InnerXML []byte     `xml:",innerxml"`
}

type rpcError struct {
	Severity string `xml:"error-severity"`
	Tag      string `xml:"error-tag"`
	Path     string `xml:"error-path"`
	Message  string `xml:"error-message"`
}

// extractReplyPayload 从rpc-reply中取出业务数据：
// JSON为文本节点，XML为内部元素，text为<output>内容
func extractReplyPayload(raw []byte, format Format) ([]byte, error) {
	var reply rpcReply
	if err := xml.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode rpc-reply: %w", err)
	}
	for _, e := range reply.Errors {
		if e.Severity != "warning" {
			return nil, fmt.Errorf("%w: %s", ErrRPCFailed, strings.TrimSpace(e.Message))
		}
	}

	switch format {
	case FormatJSON:
		data := bytes.TrimSpace([]byte(reply.CharData))
		if len(data) == 0 {
			return nil, fmt.Errorf("rpc-reply has no json payload")
		}
		return data, nil
	case FormatText:
		return []byte(strings.TrimSpace(reply.Output)), nil
	default:
		return bytes.TrimSpace(reply.InnerXML), nil
	}
}

// replyError 只有error级别的rpc-error才算失败，warning不算
func replyError(resp *response.NetconfResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrRPCFailed)
	}
	if len(resp.ErrorMessages) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRPCFailed, strings.Join(replyMessages(resp.ErrorMessages), "; "))
}

// replyMessages 把<rpc-error>片段转换为可读消息
func replyMessages(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var e rpcError
		if err := xml.Unmarshal([]byte(r), &e); err != nil || strings.TrimSpace(e.Message) == "" {
			out = append(out, strings.TrimSpace(r))
			continue
		}
		msg := strings.TrimSpace(e.Message)
		if p := strings.TrimSpace(e.Path); p != "" {
			msg = fmt.Sprintf("%s (%s)", msg, p)
		}
		out = append(out, msg)
	}
	return out
}

func mapNetconfError(err error) error {
	if errors.Is(err, util.ErrTimeoutError) {
		return fmt.Errorf("%w: %w", ErrOperationTimeout, err)
	}
	if errors.Is(err, util.ErrConnectionError) {
		return fmt.Errorf("%w: %w", ErrTransportLost, err)
	}
	return err
}
