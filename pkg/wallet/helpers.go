package wallet

// FirstOr returns the first element of list, fallback when list is empty.
func FirstOr(list []string, fallback string) string {
	if len(list) == 0 {
		return fallback
	}
	return list[0]
}
