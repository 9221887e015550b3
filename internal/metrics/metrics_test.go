package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RecordFailure(t *testing.T) {
	// arrange
	before := testutil.ToFloat64(FailureCounter("Borrow", "invalid_state"))

	// act
	RecordFailure("Borrow", "invalid_state")
	RecordFailure("Borrow", "invalid_state")

	// assert
	assert.Equal(t, before+2, testutil.ToFloat64(FailureCounter("Borrow", "invalid_state")))
}

func Test_ObserveHTTP_UnmatchedRoute(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404"))

	ObserveHTTP("GET", "", http.StatusNotFound, 3*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func Test_Handler_ExposesCollectors(t *testing.T) {
	// arrange
	LoansCreated.Inc()
	rec := httptest.NewRecorder()

	// act
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// assert
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "library_loans_created_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
