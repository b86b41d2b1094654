package fleet

import (
	"fmt"
	"math/rand"
)

var namePrefixes = []string{
	"Craft", "Mine", "Build", "Guard", "Farm",
	"Battle", "Scout", "Helper", "Worker", "Digger",
}

// 单个名字的最大尝试次数，超过后在后缀后追加序号
const maxNameAttempts = 1000

// generateNames 生成 count 个互不相同、且 taken 返回 false 的名字，
// 例如 ScoutBot_4821
func generateNames(count int, taken func(string) bool, intn func(int) int) []string {
	if intn == nil {
		intn = rand.Intn
	}
	seen := make(map[string]struct{}, count)
	out := make([]string, 0, count)

	free := func(name string) bool {
		if _, dup := seen[name]; dup {
			return false
		}
		return !taken(name)
	}

	for len(out) < count {
		var name string
		for attempt := 0; ; attempt++ {
			name = fmt.Sprintf("%sBot_%d", namePrefixes[intn(len(namePrefixes))], 1000+intn(9000))
			if attempt >= maxNameAttempts {
				name = fmt.Sprintf("%s_%d", name, len(out)+attempt)
			}
			if free(name) {
				break
			}
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
