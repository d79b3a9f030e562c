package nip98

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"notepush/internal/nostr"
)

const baseURL = "https://push.example.com"

type authOpts struct {
	kind      int
	createdAt time.Time
	url       string
	method    string
	payload   []byte
	breakSig  bool
}

func authHeader(t *testing.T, priv *btcec.PrivateKey, opts authOpts) string {
	t.Helper()

	tags := [][]string{{"u", opts.url}, {"method", opts.method}}
	if opts.payload != nil {
		sum := sha256.Sum256(opts.payload)
		tags = append(tags, []string{"payload", hex.EncodeToString(sum[:])})
	}

	event := &nostr.Event{
		PubKey:    hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		CreatedAt: opts.createdAt.Unix(),
		Kind:      opts.kind,
		Tags:      tags,
	}
	id, err := nostr.ComputeID(event)
	if err != nil {
		t.Fatalf("compute id: %v", err)
	}
	event.ID = id

	idBytes, _ := hex.DecodeString(id)
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	event.Sig = hex.EncodeToString(sig.Serialize())
	if opts.breakSig {
		event.Content = "tampered after signing"
	}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

func TestVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubkey := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	now := time.Now()

	valid := authOpts{
		kind:      nostr.KindHTTPAuth,
		createdAt: now,
		url:       baseURL + "/user-info/abc/def",
		method:    "PUT",
	}

	tests := []struct {
		name    string
		opts    func() authOpts
		method  string
		path    string
		body    []byte
		wantErr bool
	}{
		{
			name:   "valid request",
			opts:   func() authOpts { return valid },
			method: "PUT",
			path:   "/user-info/abc/def",
		},
		{
			name: "valid with body",
			opts: func() authOpts {
				o := valid
				o.payload = []byte(`{"a":1}`)
				return o
			},
			method: "PUT",
			path:   "/user-info/abc/def",
			body:   []byte(`{"a":1}`),
		},
		{
			name: "wrong kind",
			opts: func() authOpts {
				o := valid
				o.kind = nostr.KindTextNote
				return o
			},
			method:  "PUT",
			path:    "/user-info/abc/def",
			wantErr: true,
		},
		{
			name: "too old",
			opts: func() authOpts {
				o := valid
				o.createdAt = now.Add(-2 * time.Minute)
				return o
			},
			method:  "PUT",
			path:    "/user-info/abc/def",
			wantErr: true,
		},
		{
			name: "too far in the future",
			opts: func() authOpts {
				o := valid
				o.createdAt = now.Add(time.Minute)
				return o
			},
			method:  "PUT",
			path:    "/user-info/abc/def",
			wantErr: true,
		},
		{
			name:    "url mismatch",
			opts:    func() authOpts { return valid },
			method:  "PUT",
			path:    "/user-info/abc/other",
			wantErr: true,
		},
		{
			name:    "method mismatch",
			opts:    func() authOpts { return valid },
			method:  "DELETE",
			path:    "/user-info/abc/def",
			wantErr: true,
		},
		{
			name: "payload hash mismatch",
			opts: func() authOpts {
				o := valid
				o.payload = []byte(`{"a":1}`)
				return o
			},
			method:  "PUT",
			path:    "/user-info/abc/def",
			body:    []byte(`{"a":2}`),
			wantErr: true,
		},
		{
			name:    "body without payload tag",
			opts:    func() authOpts { return valid },
			method:  "PUT",
			path:    "/user-info/abc/def",
			body:    []byte(`{"a":1}`),
			wantErr: true,
		},
		{
			name: "tampered event",
			opts: func() authOpts {
				o := valid
				o.breakSig = true
				return o
			},
			method:  "PUT",
			path:    "/user-info/abc/def",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, baseURL+tt.path, nil)
			r.Header.Set("Authorization", authHeader(t, priv, tt.opts()))

			got, err := verifyAt(r, baseURL, tt.body, now)
			if tt.wantErr {
				if err == nil {
					t.Error("verify accepted an invalid request")
				}
				return
			}
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if got != pubkey {
				t.Errorf("pubkey = %s, want %s", got, pubkey)
			}
		})
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	r := httptest.NewRequest("GET", baseURL+"/user-info/abc/def", nil)
	if _, err := Verify(r, baseURL, nil); err == nil {
		t.Error("verify accepted a request without authorization")
	}

	r.Header.Set("Authorization", "Bearer sometoken")
	if _, err := Verify(r, baseURL, nil); err == nil {
		t.Error("verify accepted a non-Nostr authorization scheme")
	}
}
