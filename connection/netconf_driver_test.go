package connection

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scrapli/scrapligo/driver/netconf"
	"github.com/scrapli/scrapligo/response"
	"github.com/scrapli/scrapligo/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const neighborReplyJSON = `<rpc-reply xmlns:junos="http://xml.juniper.net/junos/21.4R0/junos">
{"bgp-information": [{"bgp-peer": []}]}
</rpc-reply>`

const validateErrorFragment = `<rpc-error>
<error-severity>error</error-severity>
<error-path>[edit protocols bgp group core]</error-path>
<error-message>neighbor 203.0.113.9 not found</error-message>
</rpc-error>`

// fakeNetconfClient 记录调用顺序，按方法名返回预设结果
type fakeNetconfClient struct {
	calls     []string
	filters   []string
	responses map[string]*response.NetconfResponse
	errs      map[string]error
	closed    int
}

func newFakeNetconfClient() *fakeNetconfClient {
	return &fakeNetconfClient{
		responses: map[string]*response.NetconfResponse{},
		errs:      map[string]error{},
	}
}

func (f *fakeNetconfClient) reply(name string) (*response.NetconfResponse, error) {
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	if r, ok := f.responses[name]; ok {
		return r, nil
	}
	return &response.NetconfResponse{Result: "<rpc-reply><ok/></rpc-reply>"}, nil
}

func (f *fakeNetconfClient) RPC(opts ...util.Option) (*response.NetconfResponse, error) {
	op, err := netconf.NewOperation(opts...)
	if err != nil {
		return nil, err
	}
	f.filters = append(f.filters, op.Filter)
	return f.reply("rpc")
}

func (f *fakeNetconfClient) Lock(target string) (*response.NetconfResponse, error) {
	return f.reply("lock")
}

func (f *fakeNetconfClient) Unlock(target string) (*response.NetconfResponse, error) {
	return f.reply("unlock")
}

func (f *fakeNetconfClient) Validate(source string) (*response.NetconfResponse, error) {
	return f.reply("validate")
}

func (f *fakeNetconfClient) Commit(opts ...util.Option) (*response.NetconfResponse, error) {
	return f.reply("commit")
}

func (f *fakeNetconfClient) Discard() (*response.NetconfResponse, error) {
	return f.reply("discard")
}

func (f *fakeNetconfClient) Close() error {
	f.closed++
	return nil
}

func setChange() *ConfigChange {
	return &ConfigChange{
		Text:   "deactivate protocols bgp group core neighbor 203.0.113.1",
		Format: FormatSet,
	}
}

func TestBuildNetconfRPC(t *testing.T) {
	rpc, err := buildNetconfRPC(&ProtocolRequest{RPC: "get-bgp-neighbor-information", Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, `<get-bgp-neighbor-information format="json"/>`, rpc)

	rpc, err = buildNetconfRPC(&ProtocolRequest{
		RPC:    "get-bgp-neighbor-information",
		Format: FormatXML,
		Params: map[string]string{"neighbor-address": "203.0.113.1", "brief": "", "instance": "a&b"},
	})
	require.NoError(t, err)
	assert.Equal(t, `<get-bgp-neighbor-information><brief/><instance>a&amp;b</instance>`+
		`<neighbor-address>203.0.113.1</neighbor-address></get-bgp-neighbor-information>`, rpc)

	_, err = buildNetconfRPC(&ProtocolRequest{RPC: "<evil>"})
	assert.True(t, errors.Is(err, ErrUnsupportedRPC))

	_, err = buildNetconfRPC(&ProtocolRequest{RPC: "get-x", Format: "yaml"})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoadConfigurationRPC(t *testing.T) {
	rpc, err := loadConfigurationRPC(&ConfigChange{Text: `set system host-name "a<b"`, Format: FormatSet})
	require.NoError(t, err)
	assert.Equal(t, `<load-configuration action="set" format="text"><configuration-set>`+
		`set system host-name &#34;a&lt;b&#34;</configuration-set></load-configuration>`, rpc)

	rpc, err = loadConfigurationRPC(&ConfigChange{Text: "<system/>", Format: FormatXML})
	require.NoError(t, err)
	assert.Equal(t, `<load-configuration action="merge" format="xml"><configuration><system/></configuration></load-configuration>`, rpc)

	_, err = loadConfigurationRPC(&ConfigChange{Text: " ", Format: FormatSet})
	assert.Error(t, err)
}

func TestExtractReplyPayload(t *testing.T) {
	data, err := extractReplyPayload([]byte(neighborReplyJSON), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"bgp-information": [{"bgp-peer": []}]}`, string(data))

	data, err = extractReplyPayload([]byte(`<rpc-reply><bgp-information><bgp-peer/></bgp-information></rpc-reply>`), FormatXML)
	require.NoError(t, err)
	assert.Equal(t, `<bgp-information><bgp-peer/></bgp-information>`, string(data))

	_, err = extractReplyPayload([]byte(`<rpc-reply>`+validateErrorFragment+`</rpc-reply>`), FormatJSON)
	assert.True(t, errors.Is(err, ErrRPCFailed))

	_, err = extractReplyPayload([]byte(`not xml`), FormatJSON)
	assert.Error(t, err)

	_, err = extractReplyPayload([]byte(`<rpc-reply></rpc-reply>`), FormatJSON)
	assert.Error(t, err)
}

func TestReplyMessages(t *testing.T) {
	msgs := replyMessages([]string{validateErrorFragment, "garbage"})
	assert.Equal(t, []string{
		"neighbor 203.0.113.9 not found ([edit protocols bgp group core])",
		"garbage",
	}, msgs)
}

func TestNetconfDriverExecute(t *testing.T) {
	client := newFakeNetconfClient()
	client.responses["rpc"] = &response.NetconfResponse{Result: neighborReplyJSON}
	d := newNetconfDriver("r1", client, nil, 0)

	resp, err := d.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information", Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, `{"bgp-information": [{"bgp-peer": []}]}`, string(resp.RawData))
	assert.Equal(t, []string{`<get-bgp-neighbor-information format="json"/>`}, client.filters)
}

func TestNetconfDriverExecuteErrors(t *testing.T) {
	client := newFakeNetconfClient()
	client.errs["rpc"] = fmt.Errorf("%w: channel timeout", util.ErrTimeoutError)
	d := newNetconfDriver("r1", client, nil, 0)

	_, err := d.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information", Format: FormatJSON})
	assert.True(t, errors.Is(err, ErrOperationTimeout))

	client.errs = map[string]error{}
	client.responses["rpc"] = &response.NetconfResponse{ErrorMessages: []string{validateErrorFragment}}
	_, err = d.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information", Format: FormatJSON})
	assert.True(t, errors.Is(err, ErrRPCFailed))
	assert.Contains(t, err.Error(), "not found")
}

func TestNetconfDriverStageValidateCommit(t *testing.T) {
	client := newFakeNetconfClient()
	d := newNetconfDriver("r1", client, nil, 0)
	ctx := context.Background()

	handle, err := d.StageConfig(ctx, setChange())
	require.NoError(t, err)
	require.NotEmpty(t, handle.ID)
	assert.Equal(t, ProtocolNetconf, handle.Protocol)
	assert.Contains(t, client.filters[0], "<configuration-set>deactivate protocols bgp group core neighbor 203.0.113.1</configuration-set>")

	_, err = d.StageConfig(ctx, setChange())
	assert.True(t, errors.Is(err, ErrChangePending))

	result, err := d.Validate(ctx, handle)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	require.NoError(t, d.Commit(ctx, handle))
	assert.Equal(t, []string{"lock", "rpc", "validate", "commit", "unlock"}, client.calls)

	// 提交后句柄失效
	assert.True(t, errors.Is(d.Commit(ctx, handle), ErrUnknownHandle))
}

func TestNetconfDriverValidationRejected(t *testing.T) {
	client := newFakeNetconfClient()
	client.responses["validate"] = &response.NetconfResponse{
		Failed:        errors.New("operation failed"),
		ErrorMessages: []string{validateErrorFragment},
	}
	d := newNetconfDriver("r1", client, nil, 0)
	ctx := context.Background()

	handle, err := d.StageConfig(ctx, setChange())
	require.NoError(t, err)

	result, err := d.Validate(ctx, handle)
	require.NoError(t, err, "a device rejection is a result, not a transport error")
	assert.False(t, result.Passed)
	assert.Equal(t, []string{"neighbor 203.0.113.9 not found ([edit protocols bgp group core])"}, result.Messages)

	require.NoError(t, d.Discard(ctx, handle))
	assert.Equal(t, []string{"lock", "rpc", "validate", "discard", "unlock"}, client.calls)
}

func TestNetconfDriverWarningsDoNotFailValidation(t *testing.T) {
	client := newFakeNetconfClient()
	client.responses["validate"] = &response.NetconfResponse{
		Failed:               errors.New("operation failed"),
		WarningErrorMessages: []string{`<rpc-error><error-severity>warning</error-severity><error-message>statement deprecated</error-message></rpc-error>`},
	}
	d := newNetconfDriver("r1", client, nil, 0)

	handle, err := d.StageConfig(context.Background(), setChange())
	require.NoError(t, err)
	result, err := d.Validate(context.Background(), handle)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, []string{"statement deprecated"}, result.Messages)
}

func TestNetconfDriverLockFailureStagesNothing(t *testing.T) {
	client := newFakeNetconfClient()
	client.responses["lock"] = &response.NetconfResponse{ErrorMessages: []string{
		`<rpc-error><error-severity>error</error-severity><error-message>configuration database locked by: admin</error-message></rpc-error>`,
	}}
	d := newNetconfDriver("r1", client, nil, 0)

	handle, err := d.StageConfig(context.Background(), setChange())
	assert.Nil(t, handle)
	assert.True(t, errors.Is(err, ErrRPCFailed))
	assert.Contains(t, err.Error(), "locked by: admin")
	assert.Equal(t, []string{"lock"}, client.calls)
}

func TestNetconfDriverLoadFailureReturnsHandle(t *testing.T) {
	client := newFakeNetconfClient()
	client.responses["rpc"] = &response.NetconfResponse{ErrorMessages: []string{validateErrorFragment}}
	d := newNetconfDriver("r1", client, nil, 0)

	handle, err := d.StageConfig(context.Background(), setChange())
	require.Error(t, err)
	require.NotNil(t, handle, "candidate is locked, caller must discard")

	require.NoError(t, d.Discard(context.Background(), handle))
	assert.Equal(t, []string{"lock", "rpc", "discard", "unlock"}, client.calls)
}

func TestNetconfDriverCloseDiscardsPending(t *testing.T) {
	client := newFakeNetconfClient()
	d := newNetconfDriver("r1", client, nil, 0)

	_, err := d.StageConfig(context.Background(), setChange())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, client.closed)
	assert.Equal(t, []string{"lock", "rpc", "discard", "unlock"}, client.calls)
	assert.False(t, d.IsAlive())

	_, err = d.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.True(t, errors.Is(err, ErrDriverClosed))
}
