package api

import (
	"errors"
	"net/http"
	"testing"
)

func classifyCode(status int, code string) error {
	env := &envelope{}
	if code != "" {
		env.Error = &struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields,omitempty"`
		}{Code: code}
	}
	return classify(status, env)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   any
	}{
		{"token expired", http.StatusUnauthorized, "TOKEN_EXPIRED", &AuthError{}},
		{"session invalidated", http.StatusForbidden, "SESSION_INVALIDATED", &AuthError{}},
		{"bare 401", http.StatusUnauthorized, "", &AuthError{}},
		{"wrong exam code", http.StatusUnauthorized, "INVALID_EXAM_CODE", &ValidationError{}},
		{"exam not available", http.StatusForbidden, "EXAM_NOT_AVAILABLE", &ValidationError{}},
		{"bad payload", http.StatusBadRequest, "INVALID_PAYLOAD", &ValidationError{}},
		{"rate limited", http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", &TransientError{}},
		{"server error", http.StatusInternalServerError, "INTERNAL_ERROR", &TransientError{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyCode(tc.status, tc.code)
			var ok bool
			switch tc.want.(type) {
			case *AuthError:
				var target *AuthError
				ok = errors.As(err, &target)
			case *ValidationError:
				var target *ValidationError
				ok = errors.As(err, &target)
			case *TransientError:
				var target *TransientError
				ok = errors.As(err, &target)
			}
			if !ok {
				t.Fatalf("classify(%d, %q) = %T, want %T", tc.status, tc.code, err, tc.want)
			}
		})
	}
}
