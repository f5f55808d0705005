package executor

import (
	"os/exec"
	"strings"

	"piper/pkg/model"
)

// BuildArgv 组装进程参数：prefix/postfix 中的 {file} 依次替换为临时文件路径，
// 没有占位符时文件路径插在 prefix 与 postfix 之间
func BuildArgv(cmd model.CommandInvocation, files []string) []string {
	argv := make([]string, 0, len(cmd.Prefix)+len(cmd.Postfix)+len(files))
	if len(files) == 0 {
		argv = append(argv, cmd.Prefix...)
		return append(argv, cmd.Postfix...)
	}

	substituted := false
	expand := func(tokens []string) {
		for _, tok := range tokens {
			if !strings.Contains(tok, model.FilenamePlaceholder) {
				argv = append(argv, tok)
				continue
			}
			substituted = true
			if tok == model.FilenamePlaceholder {
				argv = append(argv, files...)
				continue
			}
			argv = append(argv, strings.ReplaceAll(tok, model.FilenamePlaceholder, files[0]))
		}
	}

	expand(cmd.Prefix)
	mark := len(argv)
	expand(cmd.Postfix)
	if substituted {
		return argv
	}

	out := make([]string, 0, len(argv)+len(files))
	out = append(out, argv[:mark]...)
	out = append(out, files...)
	return append(out, argv[mark:]...)
}

// MissingDependencies 返回 PATH 中找不到的依赖，包括可执行文件本身
func MissingDependencies(cmd model.CommandInvocation) []string {
	seen := make(map[string]bool)
	var missing []string
	check := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	check(cmd.Executable())
	for _, dep := range cmd.RequiredInPath {
		check(dep)
	}
	return missing
}
