package recognition

import "strings"

// Attribute is a nutrient or label field recognised on a nutrition label.
type Attribute string

const (
	AttributeEnergy        Attribute = "energy"
	AttributeProtein       Attribute = "protein"
	AttributeCarbohydrate  Attribute = "carbohydrate"
	AttributeSugar         Attribute = "sugar"
	AttributeFibre         Attribute = "fibre"
	AttributeFat           Attribute = "fat"
	AttributeSaturatedFat  Attribute = "saturated_fat"
	AttributeTransFat      Attribute = "trans_fat"
	AttributeCholesterol   Attribute = "cholesterol"
	AttributeSodium        Attribute = "sodium"
	AttributeSalt          Attribute = "salt"
	AttributeCalcium       Attribute = "calcium"
	AttributeIron          Attribute = "iron"
	AttributePotassium     Attribute = "potassium"
	AttributeVitaminD      Attribute = "vitamin_d"
	AttributeAddedSugar    Attribute = "added_sugar"
	AttributeMonounsatFat  Attribute = "monounsaturated_fat"
	AttributePolyunsatFat  Attribute = "polyunsaturated_fat"
	AttributeServingAmount Attribute = "serving"
)

// IsMicronutrient reports whether the attribute is outside the core macros.
func (a Attribute) IsMicronutrient() bool {
	switch a {
	case AttributeEnergy, AttributeProtein, AttributeCarbohydrate, AttributeFat, AttributeServingAmount:
		return false
	default:
		return true
	}
}

type synonym struct {
	attr   Attribute
	phrase string
}

// synonyms are ordered so longer, more specific phrases match first.
var synonyms = []synonym{
	{AttributeSaturatedFat, "saturated fat"},
	{AttributeSaturatedFat, "saturates"},
	{AttributeSaturatedFat, "gesättigte fettsäuren"},
	{AttributeMonounsatFat, "monounsaturated fat"},
	{AttributeMonounsatFat, "mono-unsaturates"},
	{AttributePolyunsatFat, "polyunsaturated fat"},
	{AttributePolyunsatFat, "polyunsaturates"},
	{AttributeTransFat, "trans fat"},
	{AttributeAddedSugar, "added sugars"},
	{AttributeAddedSugar, "includes"},
	{AttributeSugar, "total sugars"},
	{AttributeSugar, "sugars"},
	{AttributeSugar, "sugar"},
	{AttributeSugar, "zucker"},
	{AttributeFibre, "dietary fiber"},
	{AttributeFibre, "dietary fibre"},
	{AttributeFibre, "fibre"},
	{AttributeFibre, "fiber"},
	{AttributeFibre, "ballaststoffe"},
	{AttributeCarbohydrate, "total carbohydrate"},
	{AttributeCarbohydrate, "carbohydrates"},
	{AttributeCarbohydrate, "carbohydrate"},
	{AttributeCarbohydrate, "kohlenhydrate"},
	{AttributeCarbohydrate, "carbs"},
	{AttributeFat, "total fat"},
	{AttributeFat, "fett"},
	{AttributeFat, "fat"},
	{AttributeProtein, "protein"},
	{AttributeProtein, "eiweiss"},
	{AttributeEnergy, "energy"},
	{AttributeEnergy, "energie"},
	{AttributeEnergy, "calories"},
	{AttributeCholesterol, "cholesterol"},
	{AttributeSodium, "sodium"},
	{AttributeSalt, "salt"},
	{AttributeSalt, "salz"},
	{AttributeCalcium, "calcium"},
	{AttributeIron, "iron"},
	{AttributePotassium, "potassium"},
	{AttributeVitaminD, "vitamin d"},
	{AttributeServingAmount, "serving size"},
}

var attributePrefixes = []string{"of which ", "davon ", "- ", "– "}

// matchAttribute returns the attribute named at the start of normalised text and
// the remainder of the text after the matched phrase.
func matchAttribute(text string) (Attribute, string, bool) {
	for _, p := range attributePrefixes {
		text = strings.TrimPrefix(text, p)
	}
	for _, s := range synonyms {
		phrase := normalizeText(s.phrase)
		if strings.HasPrefix(text, phrase) {
			return s.attr, strings.TrimSpace(text[len(phrase):]), true
		}
	}
	return "", "", false
}

// isColumnHeader reports whether normalised text looks like a column heading
// such as "per 100g" or "per serving".
func isColumnHeader(text string) bool {
	switch {
	case strings.HasPrefix(text, "per "), strings.HasPrefix(text, "pro "):
		return true
	case strings.Contains(text, "100g"), strings.Contains(text, "100 g"), strings.Contains(text, "100ml"):
		return true
	case strings.Contains(text, "serving"), strings.Contains(text, "portion"):
		return !strings.HasPrefix(text, "serving size")
	}
	return false
}
