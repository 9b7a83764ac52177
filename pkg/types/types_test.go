package types

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPv4(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: "192.168.1.50"},
		{input: "10.0.0.1"},
		{input: "", wantErr: true},
		{input: "192.168.1", wantErr: true},
		{input: "192.168.1.256", wantErr: true},
		{input: "::ffff:192.168.1.1", wantErr: true},
		{input: "fe80::1", wantErr: true},
		{input: "192.168.1.1; rm -rf /", wantErr: true},
		{input: "192.168.1.0/24", wantErr: true},
		{input: "0192.168.1.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ip, err := ParseIPv4(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Len(t, ip, net.IPv4len)
			assert.Equal(t, tt.input, ip.String())
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("cut: %w", NewError(KindPolicyDenied, "cut", "192.168.1.10", nil))

	assert.ErrorIs(t, err, ErrPolicyDenied)
	assert.NotErrorIs(t, err, ErrUnsupported)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindPolicyDenied, kind)
	assert.Contains(t, err.Error(), "192.168.1.10")

	cause := errors.New("no reply")
	wrapped := NewError(KindGatewayUnresolved, "gateway", "", NewError(KindTimeout, "probe", "", cause))
	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.ErrorIs(t, wrapped, cause)

	assert.NoError(t, IgnoreAlreadyInState(NewError(KindAlreadyInState, "restore", "", nil)))
	assert.Error(t, IgnoreAlreadyInState(wrapped))
}

func TestParseMAC(t *testing.T) {
	mac, err := ParseMAC("aa-bb-cc-dd-ee-01")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", mac)

	_, err = ParseMAC("not-a-mac")
	assert.Error(t, err)
}

func TestIsUsableMAC(t *testing.T) {
	assert.True(t, IsUsableMAC(net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}))
	assert.False(t, IsUsableMAC(net.HardwareAddr{0, 0, 0, 0, 0, 0}))
	assert.False(t, IsUsableMAC(net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	assert.False(t, IsUsableMAC(net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb}))
}

func TestStatusOf(t *testing.T) {
	d := &Device{IP: "192.168.1.50", AttackStatus: AttackCutting}
	st := StatusOf(d)
	assert.True(t, st.IsBlocked)
	assert.False(t, st.IsProtected)

	limit := uint64(1000)
	d.SpeedLimit = &limit
	clone := d.Clone()
	*clone.SpeedLimit = 5
	assert.Equal(t, uint64(1000), *d.SpeedLimit)
}
