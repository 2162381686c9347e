package core

// convert.go turns decoded field values into PostgreSQL types.
//
// All ToPg* functions return pgtype values with Valid=false for empty or
// unusable input, allowing the database to store NULL.

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/copybook/internal/codec"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	if strings.TrimSpace(s) == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgNumeric converts a decimal to pgtype.Numeric without rounding: the
// unscaled integer becomes the mantissa and the scale a negative exponent.
func ToPgNumeric(d codec.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   d.Unscaled(),
		Exp:   int32(-d.Scale()),
		Valid: true,
	}
}

// FromPgNumeric converts a pgtype.Numeric back to a decimal. Returns false
// for NULL, NaN and infinities.
func FromPgNumeric(n pgtype.Numeric) (codec.Decimal, bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return codec.Decimal{}, false
	}
	if n.Exp > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		return codec.NewDecimal(new(big.Int).Mul(n.Int, scale), 0), true
	}
	return codec.NewDecimal(n.Int, int(-n.Exp)), true
}

// ToPgInt8 converts an int to pgtype.Int8.
func ToPgInt8(i int) pgtype.Int8 {
	return pgtype.Int8{Int64: int64(i), Valid: true}
}

// ToPgUUID converts a string to pgtype.UUID.
// Returns invalid if the string is empty or not a valid UUID.
func ToPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// PgUUIDToString converts a pgtype.UUID to its string representation.
// Returns empty string if the UUID is invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
