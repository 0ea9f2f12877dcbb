package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Token returns an opaque string for public QR lookups.
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Number builds a human readable document number such as SL-20260105-4F9A1C.
func Number(prefix string, at time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s-%06d", prefix, at.UTC().Format("20060102"), at.Nanosecond()%1000000)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
