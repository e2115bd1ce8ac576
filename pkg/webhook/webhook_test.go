package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

func TestSignDeterministicHex(t *testing.T) {
	body := []byte(`{"event":"contract.published","payload":{"version":"1.0.0"}}`)
	first := Sign("secret", body)
	second := Sign("secret", body)
	require.Equal(t, first, second)

	require.Regexp(t, regexp.MustCompile(`^sha256=[0-9a-f]{64}$`), first)
	require.NotEqual(t, first, Sign("other-secret", body))
}

func TestSignPropertyDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	hexSig := regexp.MustCompile(`^sha256=[0-9a-f]{64}$`)
	properties.Property("same body and secret sign identically", prop.ForAll(
		func(secret, body string) bool {
			a := Sign(secret, []byte(body))
			b := Sign(secret, []byte(body))
			return a == b && hexSig.MatchString(a)
		},
		gen.AlphaString(), gen.AnyString(),
	))
	properties.TestingRun(t)
}

func TestBlockedAddressRanges(t *testing.T) {
	d := New(store.NewMemory(), Config{URL: "http://example.com/hook"})

	blocked := []string{
		"http://127.0.0.1/",
		"http://127.8.8.8/",
		"http://10.0.0.1/",
		"http://172.16.0.1/",
		"http://172.31.255.255/",
		"http://192.168.1.1/",
		"http://169.254.169.254/",
		"http://[::1]/",
		"http://[fc00::1]/",
		"http://[fd12::1]/",
		"http://[fe80::1]/",
		"http://0.0.0.0/",
	}
	for _, u := range blocked {
		err := d.validateURL(context.Background(), u)
		require.Error(t, err, "must block %s", u)
		assert.Contains(t, err.Error(), "blocked IP")
	}

	allowed := []string{
		"http://93.184.216.34/",
		"https://[2606:2800:220:1::1]/",
	}
	for _, u := range allowed {
		require.NoError(t, d.validateURL(context.Background(), u), "must allow %s", u)
	}
}

func TestValidateURLSchemes(t *testing.T) {
	d := New(store.NewMemory(), Config{})
	require.Error(t, d.validateURL(context.Background(), "ftp://example.com/"))
	require.Error(t, d.validateURL(context.Background(), "file:///etc/passwd"))

	prod := New(store.NewMemory(), Config{Production: true})
	err := prod.validateURL(context.Background(), "http://example.com/hook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")
	require.NoError(t, prod.validateURL(context.Background(), "https://example.com/hook"))
}

// A blocked target persists a failed delivery with zero attempts and never
// opens a socket.
func TestBlockedTargetPersistsFailedDelivery(t *testing.T) {
	mem := store.NewMemory()
	var dialed atomic.Bool
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		dialed.Store(true)
		t.Error("no request may be sent to a blocked address")
		return nil, http.ErrUseLastResponse
	})}

	d := New(mem, Config{URL: "http://169.254.169.254/", Secret: "s"}, WithHTTPClient(client))
	d.Emit(contracts.EventContractPublished, map[string]any{"contract_id": "c1"})
	d.Wait()

	require.False(t, dialed.Load())
	deliveries, err := mem.ListDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, contracts.DeliveryFailed, deliveries[0].Status)
	require.Zero(t, deliveries[0].Attempts)
	assert.Contains(t, deliveries[0].LastError, "blocked IP")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDeliverySuccessSetsHeaders(t *testing.T) {
	mem := store.NewMemory()

	var gotEvent, gotSig, gotTS string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(headerEvent)
		gotSig = r.Header.Get(headerSignature)
		gotTS = r.Header.Get(headerTimestamp)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := New(mem, Config{URL: server.URL, Secret: "s3cret", AllowPrivate: true})
	d.Emit(contracts.EventProposalCreated, map[string]any{"proposal_id": "p1"})
	d.Wait()

	require.Equal(t, string(contracts.EventProposalCreated), gotEvent)
	require.Regexp(t, regexp.MustCompile(`^sha256=[0-9a-f]{64}$`), gotSig)
	require.NotEmpty(t, gotTS)

	deliveries, err := mem.ListDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, contracts.DeliveryDelivered, deliveries[0].Status)
	require.Equal(t, 1, deliveries[0].Attempts)
	require.NotNil(t, deliveries[0].DeliveredAt)
}

func TestDeliveryRetriesThenFails(t *testing.T) {
	mem := store.NewMemory()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := New(mem, Config{URL: server.URL, AllowPrivate: true},
		WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))
	d.Emit(contracts.EventProposalApproved, map[string]any{"proposal_id": "p1"})
	d.Wait()

	require.Equal(t, int32(3), calls.Load())
	deliveries, err := mem.ListDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, contracts.DeliveryFailed, deliveries[0].Status)
	require.Equal(t, 3, deliveries[0].Attempts)
	require.Equal(t, http.StatusBadGateway, deliveries[0].LastStatusCode)
	assert.Contains(t, deliveries[0].LastError, "unexpected status 502")
}

func TestRetryRecoversMidSequence(t *testing.T) {
	mem := store.NewMemory()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(mem, Config{URL: server.URL, AllowPrivate: true},
		WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))
	d.Emit(contracts.EventProposalRejected, nil)
	d.Wait()

	deliveries, err := mem.ListDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, contracts.DeliveryDelivered, deliveries[0].Status)
	require.Equal(t, 2, deliveries[0].Attempts)
}

func TestNoURLIsSilentNoop(t *testing.T) {
	mem := store.NewMemory()
	d := New(mem, Config{})
	d.Emit(contracts.EventContractPublished, nil)
	d.Wait()

	deliveries, err := mem.ListDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, deliveries)
}

func TestSemaphoreReset(t *testing.T) {
	d := New(store.NewMemory(), Config{})
	first := d.semaphore()
	require.True(t, first == d.semaphore())
	d.Reset()
	second := d.semaphore()
	require.False(t, first == second)
}
