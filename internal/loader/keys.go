package loader

import "strconv"

// URLKey 是网络资源的默认缓存键。
func URLKey(url string) string {
	return "url_" + url
}

// AssetKey 是打包资源的默认缓存键。
func AssetKey(name string) string {
	return "asset_" + name
}

// RawResKey 按资源编号与日/夜变体生成缓存键。
func RawResKey(id int, night bool) string {
	variant := "day"
	if night {
		variant = "night"
	}
	return "rawRes_" + variant + "_" + strconv.Itoa(id)
}
