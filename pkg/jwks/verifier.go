package jwks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 検証失敗の種別。呼び出し元はerrors.Isで失敗理由を判別し、
// HTTPステータスとエラーコードに変換する。
var (
	// ErrMissingKeyID はトークンヘッダーにkidが含まれないことを表す。
	ErrMissingKeyID = errors.New("トークンヘッダーにkidが存在しない")
	// ErrTokenExpired はトークンの有効期限切れを表す。
	ErrTokenExpired = errors.New("トークンの有効期限が切れている")
	// ErrInvalidClaims はaudienceまたはissuerの不一致を表す。
	ErrInvalidClaims = errors.New("audienceまたはissuerが一致しない")
	// ErrInvalidToken はその他のデコード・検証失敗を表す。
	ErrInvalidToken = errors.New("トークンを解析できない")
)

// Claims はアイデンティティプロバイダが発行するトークンのクレーム。
// permissionsクレームにはRBACで付与された権限文字列が入る。
type Claims struct {
	jwt.RegisteredClaims
	// Permissions は付与された権限文字列の一覧（例: "post:drinks"）。
	Permissions []string `json:"permissions"`
}

// Verifier はベアラートークンを鍵セットに対して検証・デコードする。
type Verifier struct {
	// client は署名鍵を解決する鍵セットクライアント。
	client *Client
	// audience は検証するaudienceクレーム値。
	audience string
	// issuer は検証するissuerクレーム値。
	issuer string
	// algorithms は許可する署名アルゴリズムの一覧。
	algorithms []string
}

// NewVerifier は指定ドメインのアイデンティティプロバイダに対するVerifierを生成する。
// issuerは"https://{domain}/"として導出する。
func NewVerifier(domain, audience string, algorithms []string, cacheTTL time.Duration) *Verifier {
	return NewVerifierForIssuer(fmt.Sprintf("https://%s/", domain), audience, algorithms, cacheTTL)
}

// NewVerifierForIssuer はissuer URLを直接指定してVerifierを生成する。
// 鍵セットの取得先はissuerの末尾スラッシュを除いたベースURLから導出する。
func NewVerifierForIssuer(issuer, audience string, algorithms []string, cacheTTL time.Duration) *Verifier {
	return &Verifier{
		client:     NewClientForBaseURL(strings.TrimSuffix(issuer, "/"), cacheTTL),
		audience:   audience,
		issuer:     issuer,
		algorithms: algorithms,
	}
}

// VerifyToken はトークンの署名・有効期限・audience・issuerを検証し、
// デコード済みクレームを返す。失敗時はErrMissingKeyID / ErrKeyNotFound /
// ErrTokenExpired / ErrInvalidClaims / ErrInvalidTokenのいずれかに
// errors.Isで一致するエラーを返す。
func (v *Verifier) VerifyToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc(ctx),
		jwt.WithValidMethods(v.algorithms),
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// keyfunc はトークンヘッダーのkidに対応する公開鍵を鍵セットから解決する。
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrMissingKeyID
		}
		return v.client.PublicKey(ctx, kid)
	}
}

// classify はgolang-jwtの検証エラーをVerifierのエラー種別に変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, ErrMissingKeyID):
		return fmt.Errorf("%w: %w", ErrMissingKeyID, err)
	case errors.Is(err, ErrKeyNotFound):
		return fmt.Errorf("%w: %w", ErrKeyNotFound, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}
