package mail

// Strings is the copy used by the order emails in one language.
type Strings struct {
	CustomerSubject string
	AdminSubject    string
	Greeting        string
	Intro           string
	OrderNumber     string
	Items           string
	Quantity        string
	Subtotal        string
	Shipping        string
	Total           string
	Delivery        string
	NoDelivery      string
	Invoice         string
	InvoiceLink     string
	NextSteps       string
	NextStepsBody   string
	Closing         string

	AdminIntro     string
	Customer       string
	Packet         string
	NoPacket       string
	Weight         string
	Referral       string
	Checklist      string
	ChecklistItems []string
}

var locales = map[string]Strings{
	"cs": {
		CustomerSubject: "Potvrzení objednávky %s",
		AdminSubject:    "Nová objednávka %s",
		Greeting:        "Dobrý den",
		Intro:           "děkujeme za Vaši objednávku. Platba byla úspěšně přijata.",
		OrderNumber:     "Číslo objednávky",
		Items:           "Položky",
		Quantity:        "Množství",
		Subtotal:        "Mezisoučet",
		Shipping:        "Doprava",
		Total:           "Celkem",
		Delivery:        "Doručení",
		NoDelivery:      "Bez fyzického doručení",
		Invoice:         "Faktura",
		InvoiceLink:     "Zobrazit fakturu",
		NextSteps:       "Co bude dál",
		NextStepsBody:   "Objednávku zabalíme a předáme dopravci. Jakmile bude zásilka na cestě, pošleme Vám informace o sledování.",
		Closing:         "S pozdravem",

		AdminIntro: "Byla zaplacena nová objednávka.",
		Customer:   "Zákazník",
		Packet:     "Zásilka",
		NoPacket:   "Zásilka nebyla vytvořena",
		Weight:     "Hmotnost",
		Referral:   "Zdroj",
		Checklist:  "Postup",
		ChecklistItems: []string{
			"Zabalit objednávku",
			"Vytisknout štítek",
			"Zapsat číslo zásilky pro sledování",
			"Předat dopravci",
		},
	},
	"en": {
		CustomerSubject: "Order confirmation %s",
		AdminSubject:    "New order %s",
		Greeting:        "Hello",
		Intro:           "thank you for your order. Your payment has been received.",
		OrderNumber:     "Order number",
		Items:           "Items",
		Quantity:        "Qty",
		Subtotal:        "Subtotal",
		Shipping:        "Shipping",
		Total:           "Total",
		Delivery:        "Delivery",
		NoDelivery:      "No physical delivery",
		Invoice:         "Invoice",
		InvoiceLink:     "View invoice",
		NextSteps:       "What happens next",
		NextStepsBody:   "We will pack your order and hand it over to the carrier. Once the parcel is on its way you will receive tracking details.",
		Closing:         "Kind regards",

		AdminIntro: "A new order has been paid.",
		Customer:   "Customer",
		Packet:     "Packet",
		NoPacket:   "No packet created",
		Weight:     "Weight",
		Referral:   "Referral",
		Checklist:  "Checklist",
		ChecklistItems: []string{
			"Pack the order",
			"Print the label",
			"Log the tracking number",
			"Hand over to the carrier",
		},
	},
}

// StringsFor returns the copy for locale, falling back to Czech.
func StringsFor(locale string) Strings {
	if s, ok := locales[locale]; ok {
		return s
	}
	return locales["cs"]
}
