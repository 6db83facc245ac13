package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/coffeehub/pkg/jwks"
)

// AuthError は認証・認可の失敗を表す。
// 機械可読なコード、人間向けの説明、HTTPステータスコードを持ち、
// ErrorRendererによって標準エラーレスポンスに変換される。
type AuthError struct {
	// Code は機械可読なエラーコード（例: "authorization_header_missing"）。
	Code string
	// Description は人間向けの説明文。
	Description string
	// Status はHTTPステータスコード。
	Status int
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// contextKeyClaims はGinコンテキストにデコード済みクレームを格納するためのキー。
const contextKeyClaims = "claims"

// RequireAuth は指定された権限を要求する認証ゲートミドルウェアを返す。
// Authorizationヘッダーからベアラートークンを抽出し、鍵セットに対して
// 検証・デコードした上で、クレームのpermissionsに要求権限が含まれることを確認する。
// 成功時はデコード済みクレームをコンテキストに設定し、失敗時はAuthErrorで中断する。
func RequireAuth(verifier *jwks.Verifier, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, authErr := tokenFromHeader(c)
		if authErr != nil {
			abortWithAuthError(c, authErr)
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			abortWithAuthError(c, authErrorFromVerify(err))
			return
		}

		if authErr := checkPermission(permission, claims); authErr != nil {
			abortWithAuthError(c, authErr)
			return
		}

		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims はGinコンテキストからデコード済みクレームを取得する。
// RequireAuthミドルウェアが事前に適用されている必要がある。
func GetClaims(c *gin.Context) *jwks.Claims {
	v, _ := c.Get(contextKeyClaims)
	if claims, ok := v.(*jwks.Claims); ok {
		return claims
	}
	return nil
}

// tokenFromHeader はAuthorizationヘッダーからベアラートークンを抽出する。
// ヘッダーが存在しない、スキームがBearerでない、トークン部が無い、
// または部分が多すぎる場合はAuthErrorを返す。
func tokenFromHeader(c *gin.Context) (string, *AuthError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", &AuthError{
			Code:        "authorization_header_missing",
			Description: "Authorization header missing.",
			Status:      http.StatusUnauthorized,
		}
	}

	parts := strings.Fields(authHeader)
	if len(parts) == 0 || !strings.EqualFold(parts[0], "bearer") {
		return "", &AuthError{
			Code:        "invalid_header",
			Description: "Authorization header must start with 'Bearer'",
			Status:      http.StatusUnauthorized,
		}
	}
	if len(parts) == 1 {
		return "", &AuthError{
			Code:        "invalid_header",
			Description: "Token not found.",
			Status:      http.StatusUnauthorized,
		}
	}
	if len(parts) > 2 {
		return "", &AuthError{
			Code:        "invalid_header",
			Description: "Authorization header must be 'Bearer token'",
			Status:      http.StatusUnauthorized,
		}
	}

	return parts[1], nil
}

// authErrorFromVerify はVerifierの検証エラーをAuthErrorに変換する。
func authErrorFromVerify(err error) *AuthError {
	switch {
	case errors.Is(err, jwks.ErrMissingKeyID):
		return &AuthError{
			Code:        "invalid_header",
			Description: "Authorization malformed.",
			Status:      http.StatusUnauthorized,
		}
	case errors.Is(err, jwks.ErrKeyNotFound):
		return &AuthError{
			Code:        "invalid_header",
			Description: "Unable to find the appropriate key.",
			Status:      http.StatusBadRequest,
		}
	case errors.Is(err, jwks.ErrTokenExpired):
		return &AuthError{
			Code:        "token_expired",
			Description: "Token expired.",
			Status:      http.StatusUnauthorized,
		}
	case errors.Is(err, jwks.ErrInvalidClaims):
		return &AuthError{
			Code:        "invalid_claims",
			Description: "Invalid claims. Please check the audience and issuer.",
			Status:      http.StatusUnauthorized,
		}
	default:
		return &AuthError{
			Code:        "invalid_token",
			Description: "Unable to parse token.",
			Status:      http.StatusBadRequest,
		}
	}
}

// checkPermission はクレームのpermissionsに要求権限が含まれることを確認する。
// permissionsクレーム自体が無い場合と、権限が不足している場合を区別する。
func checkPermission(permission string, claims *jwks.Claims) *AuthError {
	if claims.Permissions == nil {
		return &AuthError{
			Code:        "invalid_claims",
			Description: "Permissions not included in JWT.",
			Status:      http.StatusBadRequest,
		}
	}
	if !slices.Contains(claims.Permissions, permission) {
		return &AuthError{
			Code:        "unauthorized",
			Description: "Permission not found.",
			Status:      http.StatusForbidden,
		}
	}
	return nil
}

// abortWithAuthError はAuthErrorをコンテキストに記録してリクエストを中断する。
// レスポンスの描画はErrorRendererが行う。
func abortWithAuthError(c *gin.Context, authErr *AuthError) {
	_ = c.Error(authErr)
	c.Abort()
}
