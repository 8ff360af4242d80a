package database

// Args converts a string slice for sqlbuilder In clauses
func Args(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
