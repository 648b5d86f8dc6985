package function

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Supported language constants
const (
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
)

// Default resource limits applied when a request leaves them unset
const (
	DefaultTimeoutSec = 60
	DefaultMemoryMB   = 128
	DefaultCPUQuota   = 100000 // one full CPU with the default 100ms period
)

// ValidLanguage reports whether the language is supported by the engine
func ValidLanguage(language string) bool {
	return language == LanguagePython || language == LanguageJavaScript
}

// Limits holds the resource ceilings enforced on a sandbox
type Limits struct {
	TimeoutSec int
	MemoryMB   int
	CPUQuota   int
}

// WithDefaults fills zero fields with the engine defaults
func (l Limits) WithDefaults() Limits {
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = DefaultTimeoutSec
	}
	if l.MemoryMB <= 0 {
		l.MemoryMB = DefaultMemoryMB
	}
	if l.CPUQuota <= 0 {
		l.CPUQuota = DefaultCPUQuota
	}
	return l
}

// Timeout returns the wall-clock execution deadline as a duration
func (l Limits) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

// Signature identifies a function for warm-pool sharing. Sandboxes are only
// reused across requests that carry an identical signature.
type Signature struct {
	Language string
	Handler  string
	Code     string
	Limits   Limits
}

// CodeHash returns a short stable hash of the function source
func (s Signature) CodeHash() string {
	sum := sha256.Sum256([]byte(s.Code))
	return hex.EncodeToString(sum[:8])
}

// Key returns the pooling key for this signature
func (s Signature) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d",
		s.Language, s.Handler, s.CodeHash(),
		s.Limits.TimeoutSec, s.Limits.MemoryMB, s.Limits.CPUQuota)
}

// Validate checks that the signature can be dispatched
func (s Signature) Validate() error {
	if !ValidLanguage(s.Language) {
		return fmt.Errorf("unsupported language: %s", s.Language)
	}
	if s.Handler == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if s.Code == "" {
		return fmt.Errorf("function code must not be empty")
	}
	return nil
}
