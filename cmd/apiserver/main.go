// ドリンクAPIサービスのエントリポイント。
// ドリンクのCRUDを提供し、ルートごとの権限チェックを
// アイデンティティプロバイダ発行のJWTに対して行う。
package main

import (
	"log"
	"os"

	"github.com/nao1215/coffeehub/internal/drinks"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := drinks.NewServer(port)
	if err != nil {
		log.Fatalf("ドリンクサーバーの初期化に失敗: %v", err)
	}

	log.Printf("ドリンクサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("ドリンクサービスの起動に失敗: %v", err)
	}
}
