package vscheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskKeyRoundTrip(t *testing.T) {
	cases := []Task{
		{DueAt: 1700000005, TargetType: "User", MethodName: "sendWelcome", TargetID: "123"},
		{DueAt: 0, TargetType: "Order", MethodName: "close", TargetID: "ord_9f8e"},
		{DueAt: 42, TargetType: "a", MethodName: "b", TargetID: "c:d/e"},
	}

	for _, c := range cases {
		key := c.Key()
		got, err := DecodeKey(key)
		require.NoError(t, err, key)
		assert.Equal(t, c, got)
	}

	assert.Equal(t, "1700000005.User.sendWelcome.123", cases[0].Key())
}

func TestTaskValidate(t *testing.T) {
	ok := Task{DueAt: 1, TargetType: "User", MethodName: "send", TargetID: "1"}
	assert.NoError(t, ok.Validate())
	ok.DueAt = MaxDueAt
	assert.NoError(t, ok.Validate())

	bad := []Task{
		{DueAt: 1, TargetType: "app.User", MethodName: "send", TargetID: "1"},
		{DueAt: 1, TargetType: "User", MethodName: "send.now", TargetID: "1"},
		{DueAt: 1, TargetType: "User", MethodName: "send", TargetID: "1.5"},
		{DueAt: 1, TargetType: "", MethodName: "send", TargetID: "1"},
		{DueAt: 1, TargetType: "User", MethodName: "", TargetID: "1"},
		{DueAt: 1, TargetType: "User", MethodName: "send", TargetID: ""},
		{DueAt: -1, TargetType: "User", MethodName: "send", TargetID: "1"},
		{DueAt: MaxDueAt + 1, TargetType: "User", MethodName: "send", TargetID: "1"},
	}
	for _, b := range bad {
		assert.ErrorIs(t, b.Validate(), ErrInvalidField, "%+v", b)
	}
}

func TestDecodeKeyMalformed(t *testing.T) {
	keys := []string{
		"",
		"1700000000.User.send",
		"1700000000.app.User.send.1",
		"soon.User.send.1",
		"1700000000..send.1",
	}

	for _, k := range keys {
		_, err := DecodeKey(k)
		assert.ErrorIs(t, err, ErrMalformedEntry, k)

		var me *MalformedEntryError
		require.True(t, errors.As(err, &me), k)
		assert.Equal(t, k, me.Key)
	}
}
