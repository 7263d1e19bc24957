package attrs

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "boxoffice/pkg/domain"
)

func TestString(t *testing.T) {
	orderID := id.OrderID(uuid.MustParse("4b9f6c1e-6d1a-4f0e-9a53-2d8d4f7d5e10"))
	args := []any{
		"source_ip", "196.201.214.200",
		"order_id", orderID,
		slog.String("reason", "invalid_secret"),
		"result_code", 1032,
		"dangling",
	}

	tests := []struct {
		key  string
		want string
	}{
		{"source_ip", "196.201.214.200"},
		{"order_id", "4b9f6c1e-6d1a-4f0e-9a53-2d8d4f7d5e10"},
		{"reason", "invalid_secret"},
		{"result_code", "1032"},
		{"dangling", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, String(args, tt.key))
		})
	}
}
