package categorization

import (
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction restricts a rule to money coming in or going out.
type Direction int

const (
	Any Direction = iota
	Debit
	Credit
)

// Rule suggests Code when the description contains any of Keywords.
// Higher Priority rules are tried first.
type Rule struct {
	Keywords  []string
	Code      string
	Direction Direction
	Priority  int
}

func (r Rule) matches(description string, amount decimal.Decimal) bool {
	switch r.Direction {
	case Debit:
		if !amount.IsNegative() {
			return false
		}
	case Credit:
		if !amount.IsPositive() {
			return false
		}
	}
	for _, k := range r.Keywords {
		if strings.Contains(description, k) {
			return true
		}
	}
	return false
}

// DefaultRules covers common Brazilian statement descriptors.
var DefaultRules = []Rule{
	{Keywords: []string{"SALARIO", "SALÁRIO", "FOLHA PAGTO", "PROVENTOS"}, Code: "01010000", Direction: Credit, Priority: 10},
	{Keywords: []string{"INSS", "APOSENTADORIA"}, Code: "01020000", Direction: Credit, Priority: 10},
	{Keywords: []string{"RENDIMENTO", "DIVIDENDO", "JCP"}, Code: "03060000", Direction: Credit, Priority: 5},
	{Keywords: []string{"CDB", "TESOURO", "LCI", "LCA"}, Code: "03020000", Priority: 5},
	{Keywords: []string{"PAGTO FATURA", "PAGAMENTO FATURA", "FATURA CARTAO"}, Code: "05100000", Direction: Debit, Priority: 8},
	{Keywords: []string{"PIX ENVIADO", "PIX TRANSF"}, Code: "05090004", Direction: Debit, Priority: 3},
	{Keywords: []string{"PIX RECEBIDO"}, Code: "05070000", Direction: Credit, Priority: 3},
	{Keywords: []string{"TED"}, Code: "05080000", Priority: 2},
	{Keywords: []string{"DOC "}, Code: "05040000", Priority: 2},
	{Keywords: []string{"BOLETO"}, Code: "05010000", Direction: Debit, Priority: 2},
	{Keywords: []string{"IFOOD", "RAPPI", "UBER EATS", "ZE DELIVERY"}, Code: "11020000", Direction: Debit, Priority: 6},
	{Keywords: []string{"RESTAURANTE", "LANCHONETE", "PADARIA", "BAR "}, Code: "11010000", Direction: Debit, Priority: 4},
	{Keywords: []string{"SUPERMERCADO", "CARREFOUR", "PAO DE ACUCAR", "ASSAI", "ATACADAO"}, Code: "10000000", Direction: Debit, Priority: 4},
	{Keywords: []string{"UBER", "99APP", "99 POP", "CABIFY"}, Code: "19010000", Direction: Debit, Priority: 4},
	{Keywords: []string{"POSTO", "SHELL", "IPIRANGA", "PETROBRAS"}, Code: "19050001", Direction: Debit, Priority: 4},
	{Keywords: []string{"ESTACIONAMENTO", "ESTAPAR"}, Code: "19050002", Direction: Debit, Priority: 4},
	{Keywords: []string{"SEM PARAR", "CONECTCAR", "PEDAGIO"}, Code: "19050003", Direction: Debit, Priority: 4},
	{Keywords: []string{"NETFLIX", "PRIME VIDEO", "DISNEY", "HBO", "GLOBOPLAY"}, Code: "09020000", Direction: Debit, Priority: 6},
	{Keywords: []string{"SPOTIFY", "DEEZER", "APPLE MUSIC"}, Code: "09030000", Direction: Debit, Priority: 6},
	{Keywords: []string{"STEAM", "PLAYSTATION", "XBOX", "NINTENDO"}, Code: "09010000", Direction: Debit, Priority: 6},
	{Keywords: []string{"FARMACIA", "DROGARIA", "DROGASIL", "RAIA", "PAGUE MENOS"}, Code: "18020000", Direction: Debit, Priority: 5},
	{Keywords: []string{"ACADEMIA", "SMART FIT", "GYMPASS", "WELLHUB"}, Code: "07030001", Direction: Debit, Priority: 5},
	{Keywords: []string{"ALUGUEL"}, Code: "17010000", Direction: Debit, Priority: 5},
	{Keywords: []string{"ENEL", "CEMIG", "COPEL", "LIGHT", "ENERGIA"}, Code: "17020002", Direction: Debit, Priority: 5},
	{Keywords: []string{"SABESP", "COPASA", "CEDAE", "AGUA"}, Code: "17020001", Direction: Debit, Priority: 5},
	{Keywords: []string{"COMGAS", "NATURGY"}, Code: "17020003", Direction: Debit, Priority: 5},
	{Keywords: []string{"VIVO", "CLARO", "TIM ", "OI "}, Code: "07010002", Direction: Debit, Priority: 3},
	{Keywords: []string{"AMAZON", "MERCADO LIVRE", "MERCADOLIVRE", "SHOPEE", "MAGALU", "ALIEXPRESS"}, Code: "08010000", Direction: Debit, Priority: 3},
	{Keywords: []string{"LATAM", "GOL LINHAS", "AZUL LINHAS"}, Code: "12010000", Direction: Debit, Priority: 5},
	{Keywords: []string{"HOTEL", "AIRBNB", "BOOKING"}, Code: "12020000", Direction: Debit, Priority: 5},
	{Keywords: []string{"TARIFA", "CESTA DE SERVICOS", "ANUIDADE"}, Code: "16000000", Direction: Debit, Priority: 6},
	{Keywords: []string{"IOF"}, Code: "15030000", Direction: Debit, Priority: 6},
	{Keywords: []string{"IPVA", "LICENCIAMENTO", "DETRAN"}, Code: "19050004", Direction: Debit, Priority: 6},
	{Keywords: []string{"IPTU"}, Code: "17040000", Direction: Debit, Priority: 6},
	{Keywords: []string{"SEGURO"}, Code: "20000000", Direction: Debit, Priority: 4},
}

// RuleCategorizer suggests categories from keyword rules over the upper-cased
// description.
type RuleCategorizer struct {
	rules []Rule
}

// NewRuleCategorizer returns a categorizer over rules, or DefaultRules when none are given.
func NewRuleCategorizer(rules ...Rule) *RuleCategorizer {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int { return b.Priority - a.Priority })
	return &RuleCategorizer{rules: sorted}
}

// Suggest returns a category code for the description and signed amount, or ""
// when no rule matches.
func (c *RuleCategorizer) Suggest(ctx context.Context, description string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized := strings.ToUpper(strings.Join(strings.Fields(description), " ")) + " "
	for _, r := range c.rules {
		if r.matches(normalized, amount) {
			return r.Code, nil
		}
	}
	return "", nil
}
