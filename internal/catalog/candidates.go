package catalog

import (
	"net/url"
	"strings"
)

// CandidateLocations：按固定优先级推导数据目录的候选位置
// 顺序：页面所在目录/data → 本地相对目录 → 源站 + 页面路径去掉末段/data → 源站 + 首段路径/data
// 约束：空候选跳过；重复项只保留第一次出现的位置
func CandidateLocations(pageURL, localDir string) []string {
	var cands []string
	var origin, p string
	if u, err := url.Parse(pageURL); err == nil && u.Scheme != "" && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
		p = u.Path
	}
	if origin != "" {
		dir := p
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			dir = dir[:i]
		}
		cands = append(cands, origin+dir+"/data")
	}
	cands = append(cands, localDir)
	if origin != "" {
		segs := strings.Split(p, "/")
		cands = append(cands, origin+strings.Join(segs[:len(segs)-1], "/")+"/data")
		var parts []string
		for _, s := range segs {
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			cands = append(cands, origin+"/"+parts[0]+"/data")
		}
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range cands {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// isRemote：候选位置是否为 http(s) 地址
func isRemote(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}
