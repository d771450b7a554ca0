package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/auth"
	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/internal/pvpchess"
	"github.com/park285/cheese-web/pkg/chessdto"
)

const codeUnauthenticated = "unauthenticated"

var statusByCode = map[string]int{
	codeUnauthenticated:                 http.StatusUnauthorized,
	pvpchess.CodeSessionNotFound:        http.StatusNotFound,
	pvpchess.CodeGameFinished:           http.StatusConflict,
	pvpchess.CodeInvalidMoveSyntax:      http.StatusBadRequest,
	pvpchess.CodeIllegalMove:            http.StatusBadRequest,
	pvpchess.CodeNotYourTurn:            http.StatusConflict,
	pvpchess.CodeNotAParticipant:        http.StatusForbidden,
	pvpchess.CodeConcurrentModification: http.StatusConflict,
	pvpchess.CodeStoreUnavailable:       http.StatusServiceUnavailable,
	pvpchess.CodeBadRequest:             http.StatusBadRequest,
	pvpchess.CodeInternal:               http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a client-facing error code.
func StatusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// msgData carries template fields for error messages. Every field a template
// may reference is always present.
type msgData struct {
	GameID string
	Move   string
}

func (s *Server) domainError(err error, d msgData) (int, chessdto.DomainError) {
	var code string
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		code = codeUnauthenticated
	case errors.Is(err, errBadRequest):
		code = pvpchess.CodeBadRequest
	default:
		code = pvpchess.Code(err)
	}
	// identity that could not be checked is a backend outage, not a 401
	if code == pvpchess.CodeInternal && isResolveError(err) {
		code = pvpchess.CodeStoreUnavailable
	}
	return StatusFor(code), chessdto.DomainError{
		Code:      code,
		Message:   s.messages.ErrorMessage(code, map[string]any{"GameID": d.GameID, "Move": d.Move}),
		Retryable: pvpchess.Retryable(err) || code == pvpchess.CodeStoreUnavailable,
	}
}

func (s *Server) writeError(c *gin.Context, err error, d msgData) {
	status, body := s.domainError(err, d)
	if status >= http.StatusInternalServerError {
		obslog.L().Error("http_error",
			zap.String("path", c.FullPath()),
			zap.String("code", body.Code),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

var (
	errBadRequest   = errors.New("bad request")
	errResolveIdent = errors.New("resolve identity")
)

func isResolveError(err error) bool { return errors.Is(err, errResolveIdent) }
