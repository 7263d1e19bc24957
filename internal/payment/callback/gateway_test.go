package callback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	audit "boxoffice/pkg/platform/audit"
)

const (
	testSecret = "s3cret-path"

	successBody = `{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":"tok-123",
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":1500.00},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254708374149}
		]}}}}`

	failureBody = `{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-2",
		"CheckoutRequestID":"tok-123",
		"ResultCode":1032,
		"ResultDesc":"Request cancelled by user"}}}`
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *capturingPublisher) Emit(_ context.Context, event audit.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type GatewaySuite struct {
	suite.Suite
	ctx       context.Context
	publisher *capturingPublisher
	gateway   *Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
	s.publisher = &capturingPublisher{}
	g, err := New(Config{
		Secret:           testSecret,
		Allowlist:        []string{"196.201.214.200", "196.201.213.0/24", "::ffff:10.0.0.1"},
		EnforceAllowlist: true,
	}, WithSecurityPublisher(s.publisher))
	s.Require().NoError(err)
	s.gateway = g
}

func (s *GatewaySuite) raw(ip, secret, body string) RawCallback {
	return RawCallback{RemoteIP: ip, PathSecret: secret, Body: []byte(body)}
}

func (s *GatewaySuite) TestAcceptsSuccessfulPayment() {
	cb, rejection := s.gateway.Validate(s.ctx, s.raw("196.201.214.200", testSecret, successBody))
	s.Require().Nil(rejection)

	s.Equal("tok-123", cb.CorrelationToken)
	s.Equal("NLJ7RT61SV", cb.ReceiptID)
	s.Equal(0, cb.ResultCode)
	s.True(cb.Succeeded())
	s.Equal("1500.00", cb.Amount)
	s.Equal("254708374149", cb.PhoneNumber)
	s.Len(cb.RawDigest, 64)
	s.Empty(s.publisher.events)
}

func (s *GatewaySuite) TestFailedPaymentUsesMerchantRequestID() {
	cb, rejection := s.gateway.Validate(s.ctx, s.raw("196.201.213.44", testSecret, failureBody))
	s.Require().Nil(rejection)

	s.Equal("29115-34620561-2", cb.ReceiptID)
	s.Equal(1032, cb.ResultCode)
	s.False(cb.Succeeded())
	s.Empty(cb.Amount)
}

func (s *GatewaySuite) TestDigestIsStablePerBody() {
	a, _ := s.gateway.Validate(s.ctx, s.raw("196.201.214.200", testSecret, successBody))
	b, _ := s.gateway.Validate(s.ctx, s.raw("196.201.214.200", testSecret, successBody))
	c, _ := s.gateway.Validate(s.ctx, s.raw("196.201.214.200", testSecret, failureBody))
	s.Equal(a.RawDigest, b.RawDigest)
	s.NotEqual(a.RawDigest, c.RawDigest)
}

func (s *GatewaySuite) TestRejections() {
	cases := []struct {
		name   string
		raw    RawCallback
		reason RejectionReason
	}{
		{"unknown source", s.raw("8.8.8.8", testSecret, successBody), ReasonSourceNotAllowed},
		{"unparseable source", s.raw("not-an-ip", testSecret, successBody), ReasonSourceNotAllowed},
		{"wrong secret", s.raw("196.201.214.200", "guess", successBody), ReasonInvalidSecret},
		{"empty secret", s.raw("196.201.214.200", "", successBody), ReasonInvalidSecret},
		{"not json", s.raw("196.201.214.200", testSecret, `<xml/>`), ReasonMalformedPayload},
		{"no envelope", s.raw("196.201.214.200", testSecret, `{"foo":1}`), ReasonMalformedPayload},
		{"fractional result code", s.raw("196.201.214.200", testSecret,
			`{"Body":{"stkCallback":{"CheckoutRequestID":"t","ResultCode":1.5,"MerchantRequestID":"m"}}}`), ReasonMalformedPayload},
		{"missing token", s.raw("196.201.214.200", testSecret,
			`{"Body":{"stkCallback":{"ResultCode":0}}}`), ReasonMissingField},
		{"missing result code", s.raw("196.201.214.200", testSecret,
			`{"Body":{"stkCallback":{"CheckoutRequestID":"t"}}}`), ReasonMissingField},
		{"success without receipt", s.raw("196.201.214.200", testSecret,
			`{"Body":{"stkCallback":{"CheckoutRequestID":"t","ResultCode":0,"CallbackMetadata":{"Item":[]}}}}`), ReasonMissingField},
		{"failure without merchant id", s.raw("196.201.214.200", testSecret,
			`{"Body":{"stkCallback":{"CheckoutRequestID":"t","ResultCode":1}}}`), ReasonMissingField},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			cb, rejection := s.gateway.Validate(s.ctx, tc.raw)
			s.Nil(cb)
			s.Require().NotNil(rejection)
			s.Equal(tc.reason, rejection.Reason)
		})
	}

	s.Len(s.publisher.events, len(cases))
	for _, e := range s.publisher.events {
		s.Equal(string(audit.EventCallbackRejected), e.Action)
		s.Equal(audit.SeverityWarning, e.Severity)
	}
}

func (s *GatewaySuite) TestSourceCheckRunsBeforeSecret() {
	_, rejection := s.gateway.Validate(s.ctx, s.raw("8.8.8.8", "guess", "garbage"))
	s.Require().NotNil(rejection)
	s.Equal(ReasonSourceNotAllowed, rejection.Reason)
}

func TestAllowlistSkippedOutsideProduction(t *testing.T) {
	g, err := New(Config{Secret: testSecret})
	require.NoError(t, err)

	cb, rejection := g.Validate(context.Background(), RawCallback{
		RemoteIP: "203.0.113.9", PathSecret: testSecret, Body: []byte(successBody),
	})
	require.Nil(t, rejection)
	assert.Equal(t, "tok-123", cb.CorrelationToken)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Secret: "x", Allowlist: []string{"10.0.0.0/33"}})
	assert.Error(t, err)

	_, err = New(Config{Secret: "x", EnforceAllowlist: true})
	assert.Error(t, err)
}

func TestIPv4MappedAddressesMatch(t *testing.T) {
	g, err := New(Config{Secret: "x", Allowlist: []string{"10.0.0.1"}, EnforceAllowlist: true})
	require.NoError(t, err)
	assert.True(t, g.allowed("::ffff:10.0.0.1"))
	assert.True(t, g.allowed("10.0.0.1"))
	assert.False(t, g.allowed("10.0.0.2"))
}
