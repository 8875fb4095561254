// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 取り込みAPI向けの事前共有シークレット認証、購読API向けのJWTトークン検証、
// パニックリカバリ、CORS設定など、updatehubの全エンドポイントで
// 共通して使用するミドルウェアを含む。
package middleware
