package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// generateTestKey はテスト用のRSA鍵ペアを生成するヘルパー関数。
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("RSA鍵の生成に失敗: %v", err)
	}
	return key
}

// jwkEntry はテスト用JWKSのエントリを組み立てるヘルパー関数。
func jwkEntry(kid string, pub *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// jwksServer はJWKSを配信するモックサーバーを生成するヘルパー関数。
// 取得回数をカウントし、keysの内容は呼び出しごとに評価される。
func jwksServer(t *testing.T, fetchCount *atomic.Int64, keys func() []map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if fetchCount != nil {
			fetchCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys()})
	}))
	t.Cleanup(server.Close)
	return server
}

// TestClientPublicKey は鍵セットクライアントの鍵解決を検証する。
func TestClientPublicKey(t *testing.T) {
	t.Parallel()

	t.Run("既知のkidに対応する公開鍵を取得できること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		server := jwksServer(t, nil, func() []map[string]string {
			return []map[string]string{jwkEntry("key-1", &key.PublicKey)}
		})

		client := NewClientForBaseURL(server.URL, time.Minute)
		pub, err := client.PublicKey(context.Background(), "key-1")
		if err != nil {
			t.Fatalf("PublicKey()でエラーが発生: %v", err)
		}
		if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
			t.Error("取得した公開鍵が配信した鍵と一致しない")
		}
	})

	t.Run("存在しないkidでErrKeyNotFoundが返ること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		server := jwksServer(t, nil, func() []map[string]string {
			return []map[string]string{jwkEntry("key-1", &key.PublicKey)}
		})

		client := NewClientForBaseURL(server.URL, time.Minute)
		_, err := client.PublicKey(context.Background(), "no-such-kid")
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("err = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("TTL内の2回目の取得でHTTPリクエストが発生しないこと", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		var fetchCount atomic.Int64
		server := jwksServer(t, &fetchCount, func() []map[string]string {
			return []map[string]string{jwkEntry("key-1", &key.PublicKey)}
		})

		client := NewClientForBaseURL(server.URL, time.Minute)
		for i := 0; i < 3; i++ {
			if _, err := client.PublicKey(context.Background(), "key-1"); err != nil {
				t.Fatalf("PublicKey()でエラーが発生: %v", err)
			}
		}
		if got := fetchCount.Load(); got != 1 {
			t.Errorf("鍵セット取得回数 = %d, want 1", got)
		}
	})

	t.Run("TTL経過後に鍵セットが再取得されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		var fetchCount atomic.Int64
		server := jwksServer(t, &fetchCount, func() []map[string]string {
			return []map[string]string{jwkEntry("key-1", &key.PublicKey)}
		})

		client := NewClientForBaseURL(server.URL, time.Nanosecond)
		if _, err := client.PublicKey(context.Background(), "key-1"); err != nil {
			t.Fatalf("PublicKey()でエラーが発生: %v", err)
		}
		time.Sleep(time.Millisecond)
		if _, err := client.PublicKey(context.Background(), "key-1"); err != nil {
			t.Fatalf("PublicKey()でエラーが発生: %v", err)
		}
		if got := fetchCount.Load(); got != 2 {
			t.Errorf("鍵セット取得回数 = %d, want 2", got)
		}
	})

	t.Run("鍵のローテーション後に未知のkidで再取得されること", func(t *testing.T) {
		t.Parallel()

		oldKey := generateTestKey(t)
		newKey := generateTestKey(t)
		current := &atomic.Value{}
		current.Store("old")
		server := jwksServer(t, nil, func() []map[string]string {
			if current.Load() == "old" {
				return []map[string]string{jwkEntry("key-old", &oldKey.PublicKey)}
			}
			return []map[string]string{jwkEntry("key-new", &newKey.PublicKey)}
		})

		client := NewClientForBaseURL(server.URL, time.Minute)
		if _, err := client.PublicKey(context.Background(), "key-old"); err != nil {
			t.Fatalf("ローテーション前の鍵取得に失敗: %v", err)
		}

		// プロバイダ側で鍵がローテーションされる
		current.Store("new")

		pub, err := client.PublicKey(context.Background(), "key-new")
		if err != nil {
			t.Fatalf("ローテーション後の鍵取得に失敗: %v", err)
		}
		if pub.N.Cmp(newKey.PublicKey.N) != 0 {
			t.Error("ローテーション後の公開鍵が一致しない")
		}
	})

	t.Run("RSA以外や壊れた鍵エントリが無視されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		server := jwksServer(t, nil, func() []map[string]string {
			return []map[string]string{
				{"kty": "EC", "kid": "ec-key", "use": "sig"},
				{"kty": "RSA", "kid": "broken", "use": "sig", "n": "!!not-base64!!", "e": "AQAB"},
				jwkEntry("key-1", &key.PublicKey),
			}
		})

		client := NewClientForBaseURL(server.URL, time.Minute)
		if _, err := client.PublicKey(context.Background(), "key-1"); err != nil {
			t.Fatalf("有効な鍵の取得に失敗: %v", err)
		}
		if _, err := client.PublicKey(context.Background(), "ec-key"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("EC鍵のエラー = %v, want ErrKeyNotFound", err)
		}
		if _, err := client.PublicKey(context.Background(), "broken"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("壊れた鍵のエラー = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("鍵セットの取得に失敗した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		client := NewClientForBaseURL(server.URL, time.Minute)
		if _, err := client.PublicKey(context.Background(), "key-1"); err == nil {
			t.Error("取得失敗時にエラーが返るべき")
		}
	})
}
