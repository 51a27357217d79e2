package domain

import (
	"golang.org/x/text/language"
)

// SupportedLocales lists the display languages, the first entry being the fallback.
var SupportedLocales = []language.Tag{language.English, language.Tamil}

var localeMatcher = language.NewMatcher(SupportedLocales)

var statusLabels = map[OrderStatus][2]string{
	OrderStatusPending:    {"Pending", "நிலுவையில்"},
	OrderStatusConfirmed:  {"Confirmed", "உறுதிசெய்யப்பட்டது"},
	OrderStatusProcessing: {"Processing", "செயலாக்கத்தில்"},
	OrderStatusShipped:    {"Shipped", "அனுப்பப்பட்டது"},
	OrderStatusDelivered:  {"Delivered", "வழங்கப்பட்டது"},
	OrderStatusCancelled:  {"Cancelled", "ரத்துசெய்யப்பட்டது"},
	OrderStatusRefunded:   {"Refunded", "பணம் திருப்பியளிக்கப்பட்டது"},
}

var verificationLabels = map[VerificationStatus][2]string{
	VerificationPending:  {"Awaiting verification", "சரிபார்ப்புக்காக காத்திருக்கிறது"},
	VerificationVerified: {"Payment verified", "பணம் சரிபார்க்கப்பட்டது"},
	VerificationRejected: {"Payment rejected", "பணம் நிராகரிக்கப்பட்டது"},
}

var paymentMethodLabels = map[PaymentMethod][2]string{
	PaymentMethodEpayum: {"E-payment", "மின்னணு கட்டணம்"},
	PaymentMethodFBX:    {"Bank deposit", "வங்கி வைப்பு"},
}

// MatchLocale picks the best supported locale for an Accept-Language header value.
func MatchLocale(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, index, _ := localeMatcher.Match(tags...)
	return SupportedLocales[index]
}

// StatusLabel returns the display label of an order status.
func StatusLabel(status OrderStatus, tag language.Tag) string {
	return pick(statusLabels[status], tag, string(status))
}

// VerificationLabel returns the display label of a payment verification status.
func VerificationLabel(status VerificationStatus, tag language.Tag) string {
	return pick(verificationLabels[status], tag, string(status))
}

// PaymentMethodLabel returns the display label of a payment method.
func PaymentMethodLabel(method PaymentMethod, tag language.Tag) string {
	return pick(paymentMethodLabels[method], tag, string(method))
}

func pick(labels [2]string, tag language.Tag, fallback string) string {
	if labels[0] == "" {
		return fallback
	}
	base, _ := tag.Base()
	if tamil, _ := language.Tamil.Base(); base == tamil {
		return labels[1]
	}
	return labels[0]
}
