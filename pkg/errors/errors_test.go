package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", New(ErrInvalidInput, http.StatusTeapot, "x"), http.StatusTeapot},
		{"wrapped invalid", fmt.Errorf("parsing: %w", ErrInvalidInput), http.StatusBadRequest},
		{"unknown module", ErrUnknownModule, http.StatusBadRequest},
		{"term missing", ErrTermNotFound, http.StatusNotFound},
		{"store down", fmt.Errorf("load: %w", ErrTranslationStore), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrPostingRead, http.StatusInternalServerError, "term %q", "design")
	if !errors.Is(err, ErrPostingRead) {
		t.Fatal("AppError does not unwrap to its sentinel")
	}
	if got, want := err.Error(), `posting list read failed: term "design"`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
