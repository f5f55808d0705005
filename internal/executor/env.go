package executor

import (
	"maps"
	"slices"
	"strings"
)

// Environment 子进程环境变量覆盖
type Environment map[string]string

// DefaultEnvironment 默认环境，仅在显式环境缺少该键时注入
func DefaultEnvironment() Environment {
	return Environment{"PYTHONUNBUFFERED": "1"}
}

// MergeEnv 纯函数：显式值优先，defaults 只补缺失的键
func MergeEnv(explicit, defaults Environment) Environment {
	out := make(Environment, len(explicit)+len(defaults))
	maps.Copy(out, explicit)
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// parseEnviron 将 KEY=VALUE 列表转为 map，后出现的同名键覆盖前者
func parseEnviron(environ []string) Environment {
	out := make(Environment, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// buildEnviron 继承环境叠加调用方覆盖，再补默认值，输出按键排序
func buildEnviron(inherited []string, overrides, defaults Environment) []string {
	env := parseEnviron(inherited)
	maps.Copy(env, overrides)
	env = MergeEnv(env, defaults)

	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
