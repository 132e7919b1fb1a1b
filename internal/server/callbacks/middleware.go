package callbacks

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/auth"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/gorilla/mux"
)

type ctxKey string

const jobContextKey ctxKey = "jobContext"

// jobTokenMiddleware admits requests whose bearer token was issued for the job in the path.
func (s *Server) jobTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		jc, err := auth.ParseJobToken(token, s.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if jc.JobID != mux.Vars(r)["id"] {
			writeError(w, http.StatusForbidden, "token not issued for this job")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), jobContextKey, jc)))
	})
}

func jobContextFrom(ctx context.Context) models.JobContext {
	jc, _ := ctx.Value(jobContextKey).(models.JobContext)
	return jc
}
