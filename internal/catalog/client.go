package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	gocache "github.com/patrickmn/go-cache"
	"github.com/google/uuid"

	"github.com/wk-j/waveplayer/internal/errs"
)

const minAPIVersion = 5_000_000

// normalCooldown and expiredRetryCooldown gate the pause between one
// operation finishing and the next starting.
const (
	normalCooldown       = 500 * time.Millisecond
	expiredRetryCooldown = 50 * time.Millisecond
)

// operation is one queued request awaiting its single in-flight turn.
type operation struct {
	id     string
	op     Opcode
	data   OpData
	result chan opResult
}

type opResult struct {
	results []OpResult
	err     error
}

// Client maintains one authenticated Ampache session and serializes
// operations so each gets a reply before the next is issued.
type Client struct {
	serverURL string
	user      string
	password  string

	httpClient *http.Client
	browseTTL  *gocache.Cache
	log        *log.Logger

	mu         sync.Mutex
	authToken  string
	apiVersion int
	songs      int

	queue chan operation
	done  chan struct{}
}

// New creates a Client for serverURL, not yet authenticated; call Run
// to start its reactor goroutine.
func New(serverURL, user, password string) *Client {
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		user:       user,
		password:   password,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		browseTTL:  gocache.New(5*time.Minute, 10*time.Minute),
		log:        log.With("component", "catalog"),
		queue:      make(chan operation, 32),
		done:       make(chan struct{}),
	}
}

// Run is the op-queue reactor: it drains queued operations one at a
// time, retrying transparently on session expiry, until Stop is called.
func (c *Client) Run() {
	for {
		select {
		case <-c.done:
			return
		case op := <-c.queue:
			c.execute(op)
		}
	}
}

// Stop shuts down the reactor goroutine.
func (c *Client) Stop() { close(c.done) }

// Enqueue submits an operation and blocks until it completes.
func (c *Client) Enqueue(op Opcode, data OpData) ([]OpResult, error) {
	o := operation{id: uuid.NewString(), op: op, data: data, result: make(chan opResult, 1)}
	c.queue <- o
	r := <-o.result
	return r.results, r.err
}

func (c *Client) execute(o operation) {
	if err := c.ensureSession(); err != nil {
		o.result <- opResult{err: err}
		return
	}

	results, err := c.doRequestWithRetry(o.op, o.data)
	o.result <- opResult{results: results, err: err}
	time.Sleep(normalCooldown)
}

// doRequestWithRetry issues op/data and, if the server reports the
// session expired, re-handshakes once and re-issues it, with the
// original op and data carried forward unchanged.
func (c *Client) doRequestWithRetry(op Opcode, data OpData) ([]OpResult, error) {
	results, err := c.doRequest(op, data)
	if err == nil || !isSessionExpired(err) {
		return results, err
	}

	c.mu.Lock()
	c.authToken = ""
	c.mu.Unlock()
	time.Sleep(expiredRetryCooldown)
	if hsErr := c.handshake(); hsErr != nil {
		return nil, hsErr
	}
	return c.doRequest(op, data)
}

func isSessionExpired(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "session expired")
}

func (c *Client) ensureSession() error {
	c.mu.Lock()
	has := c.authToken != ""
	c.mu.Unlock()
	if has {
		return nil
	}
	return c.handshake()
}

// handshake computes authHash = SHA256(timestamp || hex(SHA256(password)))
// and exchanges it for a session token, rejecting servers whose API
// version is below minAPIVersion.
func (c *Client) handshake() error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	pwHash := sha256.Sum256([]byte(c.password))
	authSum := sha256.Sum256([]byte(timestamp + hex.EncodeToString(pwHash[:])))
	auth := hex.EncodeToString(authSum[:])

	query := fmt.Sprintf("action=handshake&auth=%s&timestamp=%s&user=%s&version=%d",
		auth, timestamp, c.user, minAPIVersion)

	resp, err := c.httpClient.Get(c.serverURL + "/server/xml.server.php?" + query)
	if err != nil {
		return fmt.Errorf("catalog: handshake request: %w", err)
	}
	defer resp.Body.Close()

	results, err := parseHandshake(resp.Body)
	if err != nil {
		return err
	}

	apiRaw := results["api"]
	apiVersion, ok := normalizeAPIVersion(apiRaw)
	if !ok || apiVersion < minAPIVersion {
		return errs.ErrAPITooOld
	}

	songs, _ := strconv.Atoi(results["songs"])

	c.mu.Lock()
	c.authToken = results["auth"]
	c.apiVersion = apiVersion
	c.songs = songs
	c.mu.Unlock()

	if c.authToken == "" {
		return fmt.Errorf("catalog: handshake reply missing auth token")
	}
	return nil
}

func (c *Client) doRequest(op Opcode, data OpData) ([]OpResult, error) {
	c.mu.Lock()
	apiVersion := c.apiVersion
	auth := c.authToken
	c.mu.Unlock()

	query := buildQuery(op, data, apiVersion)
	fullURL := fmt.Sprintf("%s/server/xml.server.php?auth=%s&%s", c.serverURL, auth, query)

	resp, err := c.httpClient.Get(fullURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: request: %w", err)
	}
	defer resp.Body.Close()

	results, err := ParseReply(resp.Body, op)
	if err != nil {
		return nil, err
	}
	synthesizeTags(results)
	return results, nil
}
