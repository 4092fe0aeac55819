package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatStateWireShape(t *testing.T) {
	ok := true
	at := time.UnixMilli(1700000000123)

	state := HeartbeatState{
		Count:           3,
		SuccessCount:    2,
		FailCount:       1,
		LastOutcome:     &ok,
		LastSuccessTime: &at,
		LastTime:        &at,
	}

	data, err := json.Marshal(state)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"count": 3,
		"success": 2,
		"fail": 1,
		"last": {
			"is_success": true,
			"success": {"time": 1700000000123},
			"fail": {"time": null},
			"time": 1700000000123
		}
	}`, string(data))
}

func TestHeartbeatStateInitialIsNull(t *testing.T) {
	data, err := json.Marshal(HeartbeatState{})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"count": 0, "success": 0, "fail": 0,
		"last": {"is_success": null, "success": {"time": null}, "fail": {"time": null}, "time": null}
	}`, string(data))
}

func TestAddressRecordNullProviders(t *testing.T) {
	rec := AddressRecord{ProviderB: json.RawMessage(`{"remote_addr":"203.0.113.7"}`)}
	assert.True(t, rec.Usable())

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ipfy": null, "ipme": {"remote_addr": "203.0.113.7"}}`, string(data))

	var back AddressRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.ProviderA)
	assert.JSONEq(t, `{"remote_addr": "203.0.113.7"}`, string(back.ProviderB))
}

func TestAddressRecordUsable(t *testing.T) {
	var nilRec *AddressRecord
	assert.False(t, nilRec.Usable())
	assert.False(t, (&AddressRecord{}).Usable())
	assert.True(t, (&AddressRecord{ProviderA: json.RawMessage(`{"ip":"1.2.3.4"}`)}).Usable())
}
