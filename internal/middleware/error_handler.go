package middleware

import (
	"errors"

	apiError "collaborative-doc-sync/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *apiError.APIError
		if !errors.As(err, &apiErr) {
			// If it's a raw error we didn't wrap, treat as Internal
			apiErr = apiError.Internal(err)
		}

		if apiErr.Status >= 500 {
			log.Error().
				Err(apiErr.Internal).
				Str("request_id", c.GetString(RequestIDKey)).
				Str("path", c.FullPath()).
				Msg(apiErr.Message)
		} else {
			log.Info().
				Err(apiErr.Internal).
				Int("status", apiErr.Status).
				Str("request_id", c.GetString(RequestIDKey)).
				Msg(apiErr.Message)
		}

		c.AbortWithStatusJSON(apiErr.Status, apiErr)
	}
}
