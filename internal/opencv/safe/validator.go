package safe

import (
	"fmt"
)

func ValidateMatForOperation(mat *Mat, operation string) error {
	if mat == nil {
		return fmt.Errorf("Mat is nil for operation: %s", operation)
	}

	if !mat.IsValid() {
		return fmt.Errorf("Mat is invalid for operation: %s", operation)
	}

	if mat.Empty() {
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}

	if mat.Rows() <= 0 || mat.Cols() <= 0 {
		return fmt.Errorf("Mat has invalid dimensions %dx%d for operation: %s",
			mat.Cols(), mat.Rows(), operation)
	}

	return nil
}

// ValidateChannels checks the channel count expected by operation.
func ValidateChannels(mat *Mat, channels int, operation string) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}

	if mat.Channels() != channels {
		return fmt.Errorf("%s requires %d channels, got %d", operation, channels, mat.Channels())
	}

	return nil
}

// ValidateSameSize checks that two Mats can be combined pixel by pixel.
func ValidateSameSize(a, b *Mat, operation string) error {
	if err := ValidateMatForOperation(a, operation); err != nil {
		return err
	}
	if err := ValidateMatForOperation(b, operation); err != nil {
		return err
	}

	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return fmt.Errorf("size mismatch %dx%d vs %dx%d for operation: %s",
			a.Cols(), a.Rows(), b.Cols(), b.Rows(), operation)
	}

	return nil
}

func ValidateDimensions(width, height int, operation string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d for operation: %s", width, height, operation)
	}

	if width > 32768 || height > 32768 {
		return fmt.Errorf("dimensions %dx%d exceed maximum size for operation: %s", width, height, operation)
	}

	return nil
}

func ValidateCoordinates(row, col, rows, cols int, operation string) error {
	if row < 0 || row >= rows {
		return fmt.Errorf("row %d out of bounds [0, %d) for operation: %s", row, rows, operation)
	}

	if col < 0 || col >= cols {
		return fmt.Errorf("col %d out of bounds [0, %d) for operation: %s", col, cols, operation)
	}

	return nil
}
