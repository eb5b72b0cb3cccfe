package core

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ValidRoomID reports whether id is in the canonical document id format:
// 24 hexadecimal characters. Upper case digits are accepted.
func ValidRoomID(id string) bool {
	return primitive.IsValidObjectID(id)
}

// NormalizeRoomID returns id in lower case hex form.
func NormalizeRoomID(id string) (string, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", ErrInvalidIdentifier
	}
	return oid.Hex(), nil
}
