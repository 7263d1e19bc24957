package callback

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"
)

// Wire shape of an STK push result callback:
//
//	{"Body":{"stkCallback":{"MerchantRequestID":"...","CheckoutRequestID":"...",
//	  "ResultCode":0,"ResultDesc":"...","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1}]}}}}
type envelope struct {
	Body *struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        *json.Number    `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *callbackFields `json:"CallbackMetadata"`
}

type callbackFields struct {
	Item []metadataItem `json:"Item"`
}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

const (
	itemAmount      = "Amount"
	itemReceipt     = "MpesaReceiptNumber"
	itemPhoneNumber = "PhoneNumber"
)

// parseEnvelope decodes body into a normalized callback. Failed payments carry
// no receipt number, so MerchantRequestID identifies that delivery instead.
func parseEnvelope(body []byte) (*NormalizedCallback, *Rejection) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, &Rejection{Reason: ReasonMalformedPayload, Detail: err.Error()}
	}
	if env.Body == nil || env.Body.STKCallback == nil {
		return nil, &Rejection{Reason: ReasonMalformedPayload, Detail: "missing Body.stkCallback"}
	}
	stk := env.Body.STKCallback

	token := strings.TrimSpace(stk.CheckoutRequestID)
	if token == "" {
		return nil, &Rejection{Reason: ReasonMissingField, Detail: "CheckoutRequestID"}
	}
	if stk.ResultCode == nil {
		return nil, &Rejection{Reason: ReasonMissingField, Detail: "ResultCode"}
	}
	code, err := stk.ResultCode.Int64()
	if err != nil {
		return nil, &Rejection{Reason: ReasonMalformedPayload, Detail: "ResultCode is not an integer"}
	}

	cb := &NormalizedCallback{
		CorrelationToken: token,
		ResultCode:       int(code),
		ResultDesc:       stk.ResultDesc,
		RawDigest:        digest(body),
	}
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			switch item.Name {
			case itemAmount:
				cb.Amount = scalarString(item.Value)
			case itemReceipt:
				cb.ReceiptID = strings.TrimSpace(scalarString(item.Value))
			case itemPhoneNumber:
				cb.PhoneNumber = scalarString(item.Value)
			}
		}
	}

	if cb.Succeeded() {
		if cb.ReceiptID == "" {
			return nil, &Rejection{Reason: ReasonMissingField, Detail: itemReceipt}
		}
		return cb, nil
	}
	cb.ReceiptID = strings.TrimSpace(stk.MerchantRequestID)
	if cb.ReceiptID == "" {
		return nil, &Rejection{Reason: ReasonMissingField, Detail: "MerchantRequestID"}
	}
	return cb, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func digest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}
