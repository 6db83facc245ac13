// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// アイデンティティプロバイダからの鍵セット取得など、
// サービス外部へのJSON通信パターンを統一する。
package httpclient
