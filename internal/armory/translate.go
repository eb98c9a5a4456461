package armory

var classNames = map[string]string{
	"Hunter (Охотник)":             "Hunter",
	"Druid (Друид)":                "Druid",
	"Paladin (Паладин)":            "Paladin",
	"Shaman (Шаман)":               "Shaman",
	"Mage (Маг)":                   "Mage",
	"Warrior (Воин)":               "Warrior",
	"Priest (Жрец)":                "Priest",
	"Rogue (Разбойник)":            "Rogue",
	"Death knight (Рыцарь смерти)": "Death Knight",
	"Warlock (Чернокнижник)":       "Warlock",
}

var raceNames = map[string]string{
	"Дренеи":         "Draenei",
	"Ночные эльфы":   "Night Elf",
	"Кровавые эльфы": "Blood Elf",
	"Орки":           "Orc",
	"Люди":           "Human",
	"Нежить":         "Undead",
	"Таурены":        "Tauren",
	"Тролли":         "Troll",
	"Дворфы":         "Dwarf",
	"Гномы":          "Gnome",
}

// TranslateClass maps an armory class label to its English name. Unknown
// labels pass through unchanged.
func TranslateClass(label string) string {
	if name, ok := classNames[label]; ok {
		return name
	}
	return label
}

// TranslateRace maps an armory race label to its English name. Unknown
// labels pass through unchanged.
func TranslateRace(label string) string {
	if name, ok := raceNames[label]; ok {
		return name
	}
	return label
}
