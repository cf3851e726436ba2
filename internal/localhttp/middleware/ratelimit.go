package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	apierrors "github.com/openmined/drivesync/internal/localhttp/errors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

// RateLimit limits requests per client ip. formattedRate uses the limiter
// notation, e.g. "20-S" or "1000-H".
func RateLimit(formattedRate string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", formattedRate, err)
	}

	return mgin.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			abort(c, apierrors.TooManyRequests())
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			abort(c, apierrors.Internal("rate limiter failure", err))
		}),
	), nil
}
