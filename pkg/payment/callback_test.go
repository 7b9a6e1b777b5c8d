package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSTKCallback_Liberec(t *testing.T) {
	cb, err := DecodeSTKCallback([]byte(`{
		"merchant_order_id": "tp-1", "checkout_request_id": "ws_CO_1",
		"status": "COMPLETED", "amount": "2000", "currency": "KES", "receipt_number": "QWE123"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "tp-1", cb.Reference)
	assert.Equal(t, "ws_CO_1", cb.ProviderRef)
	s, ok := cb.Outcome.(Success)
	require.True(t, ok)
	assert.Equal(t, int64(200_000), s.AmountCents)
	assert.Equal(t, "QWE123", s.Metadata["receipt_number"])

	cb, err = DecodeSTKCallback([]byte(`{"order_id": "tp-2", "status": "CANCELLED", "status_description": "Request cancelled by user"}`))
	require.NoError(t, err)
	assert.Equal(t, "tp-2", cb.Reference)
	assert.Equal(t, Failure{Reason: "Request cancelled by user"}, cb.Outcome)

	_, err = DecodeSTKCallback([]byte(`{"order_id": "tp-3", "status": "PENDING"}`))
	assert.ErrorIs(t, err, ErrNotFinal)
}

func TestDecodeSTKCallback_Daraja(t *testing.T) {
	cb, err := DecodeSTKCallback([]byte(`{"Body":{"stkCallback":{
		"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_9","ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":150},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`))
	require.NoError(t, err)
	assert.Empty(t, cb.Reference)
	assert.Equal(t, "ws_CO_9", cb.ProviderRef)
	s, ok := cb.Outcome.(Success)
	require.True(t, ok)
	assert.Equal(t, int64(15_000), s.AmountCents)

	cb, err = DecodeSTKCallback([]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_9","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded())
	assert.Equal(t, Failure{Reason: "1032: Request cancelled by user"}, cb.Outcome)
}

func TestDecodeSTKCallback_Malformed(t *testing.T) {
	_, err := DecodeSTKCallback([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedCallback)

	_, err = DecodeSTKCallback([]byte(`{"status": "COMPLETED"}`))
	assert.ErrorIs(t, err, ErrMalformedCallback)
}

func TestDecodeB2CCallback(t *testing.T) {
	cb, err := DecodeB2CCallback([]byte(`{"merchant_order_id":"wd-1","conversation_id":"AG_1","status":"COMPLETED","amount":"49500"}`))
	require.NoError(t, err)
	assert.Equal(t, "wd-1", cb.Reference)
	assert.True(t, cb.Succeeded())

	cb, err = DecodeB2CCallback([]byte(`{"Result":{"ResultCode":2001,"ResultDesc":"The initiator information is invalid.","ConversationID":"AG_2"}}`))
	require.NoError(t, err)
	assert.Equal(t, "AG_2", cb.ProviderRef)
	assert.Equal(t, Failure{Reason: "2001: The initiator information is invalid."}, cb.Outcome)
}

func TestDecodeCardWebhook(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		success bool
		notDone bool
	}{
		{"succeeded", `{"reference":"tp-1","charge_id":"ch_1","status":"succeeded","amount":10000,"currency":"USD"}`, true, false},
		{"declined", `{"reference":"tp-1","status":"declined","failure_message":"card declined"}`, false, false},
		{"processing", `{"reference":"tp-1","status":"processing"}`, false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cb, err := DecodeCardWebhook([]byte(tc.body))
			if tc.notDone {
				assert.ErrorIs(t, err, ErrNotFinal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "tp-1", cb.Reference)
			assert.Equal(t, tc.success, cb.Succeeded())
		})
	}

	cb, err := DecodeCardWebhook([]byte(`{"reference":"tp-1","status":"succeeded","amount":10000,"currency":"USD"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), cb.Outcome.(Success).AmountCents)
}

func TestDecodeBankCallback(t *testing.T) {
	cb, err := DecodeBankCallback([]byte(`{"reference":"wd-9","transfer_id":"tr_9","status":"RETURNED","reason":"account closed"}`))
	require.NoError(t, err)
	assert.Equal(t, Failure{Reason: "account closed"}, cb.Outcome)

	cb, err = DecodeBankCallback([]byte(`{"reference":"wd-9","status":"SETTLED","amount":"49500.00"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(4_950_000), cb.Outcome.(Success).AmountCents)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"reference":"tp-1"}`)
	sig := Sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("s3cret", []byte(`{"reference":"tp-2"}`), sig))
	assert.False(t, VerifySignature("s3cret", body, ""))
}
