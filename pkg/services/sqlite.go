package services

import "strings"

// The modernc sqlite driver surfaces constraint violations as plain errors;
// matching on the constraint text is the supported way to classify them.

func isUniqueError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
