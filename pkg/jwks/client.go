package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nao1215/coffeehub/pkg/httpclient"
)

// ErrKeyNotFound は鍵セット内に一致するkidが存在しないことを表す。
var ErrKeyNotFound = errors.New("一致する署名鍵が鍵セットに存在しない")

// jwksPath はアイデンティティプロバイダが鍵セットを公開するパス。
const jwksPath = "/.well-known/jwks.json"

// DefaultCacheTTL は取得した鍵セットのデフォルトキャッシュ有効期間。
const DefaultCacheTTL = 10 * time.Minute

// jwk はJSON Web Keyの公開パラメータを表す。
type jwk struct {
	// Kty は鍵種別（RSAのみ使用する）。
	Kty string `json:"kty"`
	// Kid は鍵の識別子。
	Kid string `json:"kid"`
	// Use は鍵の用途（署名用は"sig"）。
	Use string `json:"use"`
	// N はRSA公開鍵のモジュラス（base64url）。
	N string `json:"n"`
	// E はRSA公開鍵の指数（base64url）。
	E string `json:"e"`
}

// keySet はアイデンティティプロバイダが公開するJSON Web Key Setを表す。
type keySet struct {
	Keys []jwk `json:"keys"`
}

// Client はアイデンティティプロバイダの公開鍵セットを取得・キャッシュするクライアント。
// kidをキーとしたRSA公開鍵のマップをTTL付きで保持し、
// キャッシュミスまたはTTL超過時のみ鍵セットを再取得する。
type Client struct {
	// httpClient は鍵セット取得用のHTTPクライアント。
	httpClient *httpclient.Client
	// ttl はキャッシュの有効期間。
	ttl time.Duration

	// mu は以下のキャッシュ状態を保護する。
	mu sync.RWMutex
	// keys はkidからRSA公開鍵へのマップ。
	keys map[string]*rsa.PublicKey
	// fetchedAt は最後に鍵セットを取得した時刻。
	fetchedAt time.Time
}

// NewClient は指定ドメインの鍵セットを取得するクライアントを生成する。
// ttlが0以下の場合はDefaultCacheTTLを使用する。
func NewClient(domain string, ttl time.Duration) *Client {
	return NewClientForBaseURL(fmt.Sprintf("https://%s", domain), ttl)
}

// NewClientForBaseURL は鍵セット取得先のベースURLを直接指定してクライアントを生成する。
// 標準の"https://{domain}"形式以外のプロバイダに対して使用する。
func NewClientForBaseURL(baseURL string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Client{
		httpClient: httpclient.New(baseURL),
		ttl:        ttl,
	}
}

// PublicKey はkidに対応するRSA公開鍵を返す。
// キャッシュが有効で鍵が存在すればキャッシュから返し、
// そうでなければ鍵セットを再取得してから探す。
// 再取得後も見つからない場合はErrKeyNotFoundを返す。
func (c *Client) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// refresh は鍵セットを取得してキャッシュを入れ替える。
func (c *Client) refresh(ctx context.Context) error {
	var set keySet
	if err := c.httpClient.GetJSON(ctx, jwksPath, &set); err != nil {
		return fmt.Errorf("鍵セットの取得に失敗: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			// 壊れた鍵エントリは無視して残りを使う
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// rsaPublicKey はJWKの公開パラメータからRSA公開鍵を構築する。
func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("モジュラスのデコードに失敗: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("指数のデコードに失敗: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("RSA指数が不正")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
