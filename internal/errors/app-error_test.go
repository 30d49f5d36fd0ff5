package app_error

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsKind(t *testing.T) {
	cause := errors.New("403 forbidden")
	err := fmt.Errorf("delete: %w", RemoteDenied("delete message", cause))

	assert.True(t, errors.Is(err, ErrRemoteDenied), "kind should be reachable through wrapping")
	assert.True(t, errors.Is(err, cause), "cause should be reachable too")
	assert.False(t, errors.Is(err, ErrNotAuthorized))
}

func TestAppError_From(t *testing.T) {
	denied := NotAuthorized("delete message", "!room:local")
	assert.Same(t, denied, From(fmt.Errorf("wrapped: %w", denied)))

	plain := From(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, plain.Code)
	assert.Contains(t, plain.Error(), "boom")

	assert.Nil(t, From(nil))
}
