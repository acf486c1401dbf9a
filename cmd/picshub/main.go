// Command picshub は画像共有サービスのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	picshub serve        APIサーバー（既定）
//	picshub worker       期限切れデータの掃除とメール中継
//	picshub migrate      DBマイグレーション
//	picshub healthcheck  Dockerヘルスチェック
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/picshub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
