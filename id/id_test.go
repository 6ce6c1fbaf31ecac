package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/subledger/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix id.Prefix
	}{
		{"AuditEventID", id.NewAuditEventID, id.PrefixAuditEvent},
		{"RequestID", id.NewRequestID, id.PrefixRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn()
			assert.Equal(t, tt.prefix, got.Prefix())
			assert.True(t, strings.HasPrefix(got.String(), string(tt.prefix)+"_"))
		})
	}
}

func TestParseRequestID(t *testing.T) {
	original := id.NewRequestID()
	parsed, err := id.ParseRequestID(original.String())
	require.NoError(t, err)
	assert.Equal(t, original.String(), parsed.String())

	tests := []string{
		"",
		"not-a-typeid",
		"req_",
		id.NewAuditEventID().String(),
	}
	for _, in := range tests {
		_, err := id.ParseRequestID(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	assert.True(t, i.IsNil())
	assert.Empty(t, i.String())
	assert.Empty(t, i.Prefix())
}

func TestMarshalJSON(t *testing.T) {
	evt := struct {
		ID id.AuditEventID `json:"id"`
	}{ID: id.NewAuditEventID()}

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+evt.ID.String()+`"}`, string(data))

	data, err = json.Marshal(struct {
		ID id.ID `json:"id"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":""}`, string(data))
}

func TestUniqueness(t *testing.T) {
	a := id.NewAuditEventID()
	b := id.NewAuditEventID()
	assert.NotEqual(t, a.String(), b.String())
}
