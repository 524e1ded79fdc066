package audit

import (
	"strconv"
	"strings"
)

func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

func exitDetail(code int) string {
	if code == -1 {
		return "killed"
	}
	return "exit code " + strconv.Itoa(code)
}
