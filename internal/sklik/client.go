package sklik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/keboola/sklik-extractor/internal/entities"
	"github.com/keboola/sklik-extractor/internal/metrics"
	"github.com/keboola/sklik-extractor/internal/utils"
)

const (
	// DefaultAPIURL is the production Sklik Drak JSON endpoint.
	DefaultAPIURL = "https://api.sklik.cz/drak/json/"

	methodLogin        = "client.login"
	methodLoginByToken = "client.loginByToken"
	methodLogout       = "client.logout"
	methodClientGet    = "client.get"
	methodAPILimits    = "api.limits"

	// transportRetryAttempts bounds the HTTP-layer retry of 5xx and
	// connection errors.
	transportRetryAttempts = 5
	// appRetryBudget bounds the body-level retry loop that forces a re-login
	// between attempts.
	appRetryBudget = 5

	defaultListLimit = 100
)

// Client owns the session state of one authenticated identity and issues all
// Sklik API calls. Execution is single-threaded by design: the server enforces
// strict per-session call limits, so the session field needs ordering, not
// locking.
type Client struct {
	apiURL         string
	httpClient     utils.HTTPClient
	logger         *logrus.Logger
	metricsService metrics.MetricsService

	loginMethod string
	loginParams []interface{}
	session     string

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	sleepFn        func(time.Duration)
}

func NewClient(apiURL string, httpClient utils.HTTPClient, logger *logrus.Logger, metricsService metrics.MetricsService) (*Client, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if httpClient == nil {
		return nil, errors.New("httpClient is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if metricsService == nil {
		return nil, errors.New("metricsService is required")
	}

	return &Client{
		apiURL:         apiURL,
		httpClient:     httpClient,
		logger:         logger,
		metricsService: metricsService,
		retryBaseDelay: time.Second,
		retryMaxDelay:  30 * time.Second,
		sleepFn:        time.Sleep,
	}, nil
}

// Session returns the current session token. Exposed for tests.
func (c *Client) Session() string {
	return c.session
}

// LoginByToken establishes a session using a long-lived API token.
func (c *Client) LoginByToken(ctx context.Context, token string) error {
	c.loginMethod = methodLoginByToken
	c.loginParams = []interface{}{token}
	return c.login(ctx)
}

// LoginWithPassword establishes a session using a username/password pair, the
// login flavor of older protocol generations.
func (c *Client) LoginWithPassword(ctx context.Context, username, password string) error {
	c.loginMethod = methodLogin
	c.loginParams = []interface{}{username, password}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if c.loginMethod == "" {
		return errors.New("no login credentials configured")
	}
	resp, err := c.request(ctx, c.loginMethod, c.loginParams, appRetryBudget)
	if err != nil {
		return err
	}
	if status, ok := numberField(resp, "status"); !ok || status != http.StatusOK {
		message := stringField(resp, "statusMessage")
		if message == "" {
			message = "authentication failed"
		}
		return apiError(KindAuthFailure, message, c.loginMethod, nil, status, resp)
	}
	return nil
}

// Logout invalidates the session. It is best-effort: extraction does not
// depend on it and a failure is only logged.
func (c *Client) Logout(ctx context.Context) {
	if c.session == "" {
		return
	}
	_, err := c.request(ctx, methodLogout, []interface{}{map[string]interface{}{"session": c.session}}, 0)
	if err != nil {
		c.logger.Warnf("Logout failed: %v", err)
	}
	c.session = ""
}

// GetAccounts lists all accounts visible to the credential. The
// authenticating user is not returned as an account by the API, so it is
// synthesized into the listing as its first element.
func (c *Client) GetAccounts(ctx context.Context) ([]entities.Account, error) {
	resp, err := c.requestAuthenticated(ctx, methodClientGet, nil, 0)
	if err != nil {
		return nil, err
	}

	userRaw, ok := resp["user"]
	if !ok {
		message := "API returned unexpected result to client.get request. It is missing 'user' information."
		c.logger.WithFields(logrus.Fields{"method": methodClientGet, "response": resp}).Error(message)
		return nil, apiError(KindContractViolation, message, methodClientGet, nil, http.StatusOK, resp)
	}

	var user entities.User
	if err := reparse(userRaw, &user); err != nil {
		return nil, fmt.Errorf("parsing user from client.get response: %w", err)
	}

	var foreign []entities.Account
	if raw, ok := resp["foreignAccounts"]; ok {
		if err := reparse(raw, &foreign); err != nil {
			return nil, fmt.Errorf("parsing foreignAccounts from client.get response: %w", err)
		}
	}

	return append([]entities.Account{entities.AccountFromUser(user)}, foreign...), nil
}

// GetListLimit fetches the server's global listing limit, the maximum number
// of entities one paginated call may return.
func (c *Client) GetListLimit(ctx context.Context) (int, error) {
	resp, err := c.requestAuthenticated(ctx, methodAPILimits, nil, 0)
	if err != nil {
		return 0, err
	}

	raw, ok := resp["batchCallLimits"]
	if !ok {
		message := "API returned unexpected result to api.limits request. It is missing 'batchCallLimits'."
		c.logger.WithFields(logrus.Fields{"method": methodAPILimits, "response": resp}).Error(message)
		return 0, apiError(KindContractViolation, message, methodAPILimits, nil, http.StatusOK, resp)
	}

	var limits []entities.BatchCallLimit
	if err := reparse(raw, &limits); err != nil {
		return 0, fmt.Errorf("parsing batchCallLimits from api.limits response: %w", err)
	}

	for _, l := range limits {
		if l.Name == entities.GlobalListLimitName {
			return l.Limit, nil
		}
	}
	return defaultListLimit, nil
}

// CreateReport materializes a server-side report for one account and returns
// its handle.
func (c *Client) CreateReport(ctx context.Context, resource string, userID int64, restrictionFilter, displayOptions map[string]interface{}) (entities.ReportJob, error) {
	// The server requires JSON objects, not nulls, for empty filters.
	if restrictionFilter == nil {
		restrictionFilter = map[string]interface{}{}
	}
	if displayOptions == nil {
		displayOptions = map[string]interface{}{}
	}

	method := resource + ".createReport"
	args := []interface{}{restrictionFilter, displayOptions}
	resp, err := c.requestAuthenticated(ctx, method, args, userID)
	if err != nil {
		return entities.ReportJob{}, err
	}

	reportID := stringField(resp, "reportId")
	if reportID == "" {
		return entities.ReportJob{}, apiError(KindContractViolation,
			"Report Id is missing from createReport API call", method, args, http.StatusOK, resp)
	}

	job := entities.ReportJob{ReportID: reportID}
	if totalCount, ok := numberField(resp, "totalCount"); ok {
		job.TotalCount = totalCount
	}
	return job, nil
}

// ReadReport reads one page of a materialized report.
func (c *Client) ReadReport(ctx context.Context, resource, reportID string, allowEmptyStatistics bool, displayColumns []string, offset, limit int) ([]entities.RawReportRow, error) {
	method := resource + ".readReport"
	args := []interface{}{reportID, map[string]interface{}{
		"offset":               offset,
		"limit":                limit,
		"allowEmptyStatistics": allowEmptyStatistics,
		"displayColumns":       displayColumns,
	}}
	resp, err := c.requestAuthenticated(ctx, method, args, 0)
	if err != nil {
		return nil, err
	}

	raw, ok := resp["report"]
	if !ok {
		return nil, apiError(KindContractViolation, `Result is missing "report" field.`, method, args, http.StatusOK, resp)
	}

	var rows []entities.RawReportRow
	if err := reparse(raw, &rows); err != nil {
		return nil, fmt.Errorf("parsing report rows from %s response: %w", method, err)
	}
	return rows, nil
}

// requestAuthenticated prepends the session struct (optionally scoped to an
// account) as the first positional argument.
func (c *Client) requestAuthenticated(ctx context.Context, method string, args []interface{}, userID int64) (map[string]interface{}, error) {
	user := map[string]interface{}{"session": c.session}
	if userID != 0 {
		user["userId"] = userID
	}
	return c.request(ctx, method, append([]interface{}{user}, args...), appRetryBudget)
}

func (c *Client) request(ctx context.Context, method string, args []interface{}, retries int) (map[string]interface{}, error) {
	startTime := time.Now()
	c.metricsService.IncRPCRequests(method)
	defer func() {
		c.metricsService.ObserveRPCRequestDuration(method, time.Since(startTime).Seconds())
	}()

	// A retried call must carry the session obtained by the re-login, never
	// the one it originally failed with.
	c.injectSession(args)

	statusCode, respBody, err := c.post(ctx, method, args)
	if err != nil {
		c.metricsService.IncRPCEndpointFailure(method)
		return nil, fmt.Errorf("sending POST request to Sklik API: %w", err)
	}

	respJSON := map[string]interface{}{}
	if len(respBody) > 0 {
		if jsonErr := json.Unmarshal(respBody, &respJSON); jsonErr != nil {
			if statusCode == http.StatusOK {
				c.metricsService.IncRPCEndpointFailure(method)
				return nil, fmt.Errorf("parsing API response JSON body %s: %w", string(respBody), jsonErr)
			}
			respJSON = map[string]interface{}{}
		}
	}

	// refresh session token
	if session, ok := respJSON["session"].(string); ok && session != "" {
		c.session = session
	}

	if statusCode != http.StatusOK || isBodyError(respJSON) {
		return c.handleErrorResponse(ctx, method, args, statusCode, respJSON, retries)
	}

	c.metricsService.IncRPCEndpointSuccess(method)
	return respJSON, nil
}

// post issues the HTTP call with transport-level retry: 5xx responses and
// connection errors are retried with capped exponential backoff, anything
// else is returned to the caller for body-level handling. A 5xx that survives
// all attempts is also returned rather than raised, so the application layer
// may retry it once more with a fresh login.
func (c *Client) post(ctx context.Context, method string, args []interface{}) (int, []byte, error) {
	reqBody, err := json.Marshal(args)
	if err != nil {
		return 0, nil, fmt.Errorf("marshaling request body: %w", err)
	}

	u, err := url.JoinPath(c.apiURL, method)
	if err != nil {
		return 0, nil, fmt.Errorf("joining API URL with method path: %w", err)
	}

	var statusCode int
	var respBody []byte
	err = retry.Do(
		func() error {
			resp, postErr := c.httpClient.Post(u, "application/json", bytes.NewReader(reqBody))
			if postErr != nil {
				return fmt.Errorf("sending request: %w", postErr)
			}
			body, readErr := io.ReadAll(resp.Body)
			utils.DeferredClose(resp.Body, "closing response body")
			if readErr != nil {
				return fmt.Errorf("reading response body: %w", readErr)
			}
			statusCode = resp.StatusCode
			respBody = body
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("API returned status code=%d, body=%s", resp.StatusCode, string(body))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(transportRetryAttempts),
		retry.Delay(c.retryBaseDelay),
		retry.MaxDelay(c.retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, retryErr error) {
			c.metricsService.IncRPCRetry(method, "transport")
			c.logger.WithFields(logrus.Fields{
				"method":  method,
				"attempt": attempt + 1,
			}).Warnf("Transport error, will be retried: %v", retryErr)
		}),
	)
	if err != nil {
		if statusCode == 0 {
			return 0, nil, err
		}
		// Last attempt reached the server; hand the 5xx response upward.
	}
	return statusCode, respBody, nil
}

func (c *Client) handleErrorResponse(ctx context.Context, method string, args []interface{}, statusCode int, respJSON map[string]interface{}, retries int) (map[string]interface{}, error) {
	message := stringField(respJSON, "message")
	if message == "" {
		message = stringField(respJSON, "statusMessage")
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	code := statusCode
	if isBodyError(respJSON) {
		if bodyCode, ok := numberField(respJSON, "code"); ok {
			code = bodyCode
		}
	}

	// Throw on wrong credentials
	if code == http.StatusUnauthorized && (method == methodLoginByToken || method == methodLogin) {
		c.metricsService.IncRPCEndpointFailure(method)
		return nil, apiError(KindAuthFailure, message, method, nil, code, respJSON)
	}

	// The too-many-requests signal carries an explicit cooldown and is handled
	// by the caller, not by the re-login retry loop.
	if IsRateLimitMessage(message) {
		c.metricsService.IncRPCEndpointFailure(method)
		wait, parseErr := ParseRateLimitWait(message)
		if parseErr != nil {
			return nil, apiError(KindFatal, parseErr.Error(), method, args, code, respJSON)
		}
		rateErr := apiError(KindRateLimited, message, method, args, code, respJSON)
		rateErr.Wait = wait
		return nil, rateErr
	}

	// Throw on other user error or 500 after retries
	if code < http.StatusInternalServerError || retries <= 0 {
		c.metricsService.IncRPCEndpointFailure(method)
		return nil, apiError(KindFatal, message, method, args, code, respJSON)
	}

	// Retry 500 errors
	c.metricsService.IncRPCRetry(method, "application")
	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"params":   FilterParamsForLog(args, method),
		"response": respJSON,
	}).Errorf("API Error, will be retried. Retry count: %dx", appRetryBudget-(retries-1))

	c.sleepFn(reloginBackoff())
	if err := c.login(ctx); err != nil {
		return nil, fmt.Errorf("re-login before retrying %s: %w", method, err)
	}
	return c.request(ctx, method, args, retries-1)
}

// injectSession refreshes the session value of a leading user struct so that
// retried calls never reuse an expired token.
func (c *Client) injectSession(args []interface{}) {
	if len(args) == 0 {
		return
	}
	if user, ok := args[0].(map[string]interface{}); ok {
		if _, hasSession := user["session"]; hasSession {
			user["session"] = c.session
		}
	}
}

// reloginBackoff is the randomized 5-10s pause before a forced re-login.
func reloginBackoff() time.Duration {
	return 5*time.Second + time.Duration(rand.Int63n(int64(5*time.Second)))
}

func isBodyError(respJSON map[string]interface{}) bool {
	status, ok := respJSON["status"].(string)
	return ok && status == "error"
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func numberField(m map[string]interface{}, key string) (int, bool) {
	if v, ok := m[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}

// reparse converts a decoded JSON subtree into a typed value.
func reparse(raw interface{}, dst interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encoding value: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return nil
}
