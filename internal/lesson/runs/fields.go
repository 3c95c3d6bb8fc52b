package runs

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

func applyField(rec *RunRecord, column string, v interface{}) error {
	switch column {
	case "status":
		return setString(&rec.Status, column, v)
	case "phase":
		return setString(&rec.Phase, column, v)
	case "repair_stage":
		return setString(&rec.RepairStage, column, v)
	case "error_code":
		return setString(&rec.ErrorCode, column, v)
	case "error":
		return setString(&rec.Error, column, v)
	case "images_total":
		return setInt(&rec.ImagesTotal, column, v)
	case "images_failed":
		return setInt(&rec.ImagesFailed, column, v)
	case "audio_total":
		return setInt(&rec.AudioTotal, column, v)
	case "audio_failed":
		return setInt(&rec.AudioFailed, column, v)
	case "plan":
		switch t := v.(type) {
		case datatypes.JSON:
			rec.Plan = append(datatypes.JSON(nil), t...)
		case []byte:
			rec.Plan = append(datatypes.JSON(nil), t...)
		default:
			return fmt.Errorf("column %s: unsupported %T", column, v)
		}
	case "finished_at":
		switch t := v.(type) {
		case time.Time:
			rec.FinishedAt = &t
		case *time.Time:
			rec.FinishedAt = t
		default:
			return fmt.Errorf("column %s: unsupported %T", column, v)
		}
	default:
		return fmt.Errorf("unknown column %s", column)
	}
	return nil
}

func setString(dst *string, column string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("column %s: want string, got %T", column, v)
	}
	*dst = s
	return nil
}

func setInt(dst *int, column string, v interface{}) error {
	n, ok := v.(int)
	if !ok {
		return fmt.Errorf("column %s: want int, got %T", column, v)
	}
	*dst = n
	return nil
}
