package command

import "strings"

// Category is the intent of a free-text message.
type Category string

const (
	CategoryHelp     Category = "help"
	CategoryBalance  Category = "balance"
	CategoryProducts Category = "products"
	CategoryUnknown  Category = "unknown"
)

type textRule struct {
	category Category
	keywords []string
}

// textRules are evaluated in order; the first rule with a keyword contained in
// the message wins, so "help with my balance" is a help request.
var textRules = []textRule{
	{category: CategoryHelp, keywords: []string{"help", "帮助", "помощь"}},
	{category: CategoryBalance, keywords: []string{"balance", "余额", "money", "баланс"}},
	{category: CategoryProducts, keywords: []string{"products", "商品", "shop", "товары"}},
}

// Classify maps free text to a category by case-insensitive keyword
// containment.
func Classify(text string) Category {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return CategoryUnknown
	}

	for _, rule := range textRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return rule.category
			}
		}
	}

	return CategoryUnknown
}
