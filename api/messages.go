package api

import (
	"net/http"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// User-facing messages. The key is the English text; Turkish is the
// default language, English is served when Accept-Language prefers it.
const (
	msgInvalidBody         = "Invalid request body"
	msgInvalidID           = "Invalid ID"
	msgNameRequired        = "Name is required"
	msgNegativeEntitlement = "Entitlement must not be negative"
	msgInvalidRange        = "Invalid date range"
	msgInvalidCategory     = "Invalid leave category"
	msgInvalidQuantity     = "Quantity must be greater than zero"
	msgInvalidStatus       = "Invalid status filter"
	msgInsufficientLeave   = "Insufficient leave balance. Remaining: %d days"
	msgInsufficientStock   = "Insufficient stock. Available: %s"
	msgRoomTaken           = "Room is already booked for this time"
	msgEmployeeNotFound    = "Employee not found"
	msgLeaveNotFound       = "Leave record not found"
	msgNotFound            = "Record not found"
	msgRetry               = "The operation could not be completed, please try again"
	msgInternal            = "Internal server error"
	msgRateLimited         = "Too many requests, please try again later"
)

var supportedLanguages = []language.Tag{language.Turkish, language.English}

var languageMatcher = language.NewMatcher(supportedLanguages)

func init() {
	tr := map[string]string{
		msgInvalidBody:         "Geçersiz istek gövdesi",
		msgInvalidID:           "Geçersiz kimlik",
		msgNameRequired:        "İsim zorunludur",
		msgNegativeEntitlement: "İzin hakkı negatif olamaz",
		msgInvalidRange:        "Geçersiz tarih aralığı",
		msgInvalidCategory:     "Geçersiz izin türü",
		msgInvalidQuantity:     "Miktar sıfırdan büyük olmalıdır",
		msgInvalidStatus:       "Geçersiz durum filtresi",
		msgInsufficientLeave:   "Yetersiz izin hakkı. Kalan izin: %d gün",
		msgInsufficientStock:   "Yetersiz stok. Mevcut: %s",
		msgRoomTaken:           "Oda bu saat aralığında dolu",
		msgEmployeeNotFound:    "Personel bulunamadı",
		msgLeaveNotFound:       "İzin kaydı bulunamadı",
		msgNotFound:            "Kayıt bulunamadı",
		msgRetry:               "İşlem tamamlanamadı, lütfen tekrar deneyin",
		msgInternal:            "Sunucu hatası",
		msgRateLimited:         "Çok fazla istek, lütfen daha sonra tekrar deneyin",
	}
	for key, text := range tr {
		_ = message.SetString(language.Turkish, key, text)
		_ = message.SetString(language.English, key, key)
	}
}

// printerFor picks the response language from Accept-Language.
func printerFor(r *http.Request) *message.Printer {
	tag, _ := language.MatchStrings(languageMatcher, r.Header.Get("Accept-Language"))
	base, _ := tag.Base()
	if base.String() == "en" {
		return message.NewPrinter(language.English)
	}
	return message.NewPrinter(language.Turkish)
}
