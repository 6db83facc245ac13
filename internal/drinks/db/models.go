package db

// Drink はdrinksテーブルの1行を表す。
type Drink struct {
	// ID はストレージが採番する一意な整数識別子。
	ID int64
	// Title はドリンク名。全ドリンクで一意。
	Title string
	// Recipe はレシピのJSONシリアライズ文字列。
	Recipe string
}
