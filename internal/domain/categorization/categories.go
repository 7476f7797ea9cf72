// Package categorization suggests Open Finance Brasil category codes for imported
// transactions.
package categorization

import (
	"slices"
	"strings"
)

// Categories maps Open Finance Brasil category codes to their display names.
var Categories = map[string]string{
	"01000000": "Renda",
	"01010000": "Salário",
	"01010001": "Pro-labore",
	"01019999": "Benefícios",
	"01020000": "Aposentadoria",
	"01030000": "Atividades de empreendedorismo",
	"01040000": "Auxílio do governo",
	"01050000": "Renda não-recorrente",
	"01999999": "Contas",
	"02000000": "Empréstimos e financiamento",
	"02010000": "Atraso no pagamento e custos de cheque especial",
	"02020000": "Juros cobrados",
	"02030000": "Financiamento",
	"02030001": "Financiamento imobiliário",
	"02030002": "Financiamento de veículos",
	"02030003": "Empréstimo estudantil",
	"02040000": "Empréstimos",
	"02999998": "Aluguéis",
	"02999999": "Venda de Ativos",
	"03000000": "Investimentos",
	"03010000": "Investimento automático",
	"03020000": "Renda fixa",
	"03030000": "Fundos multimercado",
	"03040000": "Renda variável",
	"03050000": "Ajuste de margem",
	"03050009": "Renda Passiva",
	"03060000": "Juros de rendimentos de dividendos",
	"03060001": "Outros Proventos",
	"03070000": "Pensão",
	"04000000": "Transferência mesma titularidade",
	"04010000": "Transferência mesma titularidade - Dinheiro",
	"04020000": "Transferência mesma titularidade - PIX",
	"04030000": "Transferência mesma titularidade - TED",
	"05000000": "Transferências",
	"05010000": "Transferência - Boleto bancário",
	"05020000": "Transferência - Dinheiro",
	"05030000": "Transferência - Cheque",
	"05040000": "Transferências- DOC",
	"05050000": "Transferência - Câmbio",
	"05060000": "Transferência - Mesma instituição",
	"05070000": "Transferência - PIX",
	"05080000": "Transferência - TED",
	"05090000": "Transferências para terceiros",
	"05090001": "Transferência para terceiros - Boleto bancário",
	"05090002": "Transferência para terceiros - Débito",
	"05090003": "Transferência para terceiros - DOC",
	"05090004": "Transferência para terceiros - PIX",
	"05090005": "Transferência para terceiros - TED",
	"05100000": "Pagamento de cartão de crédito",
	"06000000": "Obrigações legais",
	"06010000": "Saldo bloqueado",
	"06020000": "Pensão alimentícia",
	"07000000": "Serviços",
	"07010000": "Telecomunicação",
	"07010001": "Internet",
	"07010002": "Celular",
	"07010003": "TV",
	"07010004": "Serviços de Telecom",
	"07020000": "Educação",
	"07020001": "Cursos online",
	"07020002": "Universidade",
	"07020003": "Escola",
	"07020004": "Creche",
	"07030000": "Saúde e bem-estar",
	"07030001": "Academia e centros de lazer",
	"07030002": "Prática de esportes",
	"07030003": "Bem-estar",
	"07040000": "Bilhetes",
	"07040001": "Estádios e arenas",
	"07040002": "Museus e pontos turísticos",
	"07040003": "Cinema, Teatro e Concertos",
	"08000000": "Compras",
	"08010000": "Compras online",
	"08020000": "Eletrônicos",
	"08030000": "Pet Shops e veterinários",
	"08040000": "Vestiário",
	"08050000": "Artigos infantis",
	"08050001": "Higine, Beleza e Perfumaria",
	"08060000": "Livraria",
	"08070000": "Artigos esportivos",
	"08080000": "Papelaria",
	"08090000": "Cashback",
	"08090001": "Presentes",
	"09000000": "Serviços digitais",
	"09010000": "Jogos e videogames",
	"09020000": "Streaming de vídeo",
	"09030000": "Streaming de música",
	"10000000": "Supermercado",
	"11000000": "Alimentos e bebidas",
	"11010000": "Restaurantes, bares e lanchonetes",
	"11020000": "Delivery de alimentos",
	"12000000": "Viagens",
	"12010000": "Aeroportos e cias. aéreas",
	"12020000": "Hospedagem",
	"12030000": "Programas de milhagem",
	"12040000": "Passagem de ônibus",
	"12050000": "Combustível",
	"13000000": "Doações",
	"14000000": "Apostas",
	"14010000": "Loteria",
	"14020000": "Apostas online",
	"14030000": "Vida Noturna",
	"15000000": "Impostos",
	"15010000": "Imposto de renda",
	"15020000": "Imposto sobre investimentos",
	"15030000": "Impostos sobre operações financeiras",
	"16000000": "Taxas bancárias",
	"16010000": "Taxas de conta corrente",
	"16020000": "Taxas sobre transferências e caixa eletrônico",
	"16030000": "Taxas de cartão de crédito",
	"17000000": "Moradia",
	"17000001": "Serviços Domésticos",
	"17010000": "Aluguel",
	"17020000": "Serviços de utilidade pública",
	"17020001": "Água",
	"17020002": "Eletricidade",
	"17020003": "Gás",
	"17030000": "Utensílios para casa",
	"17040000": "Impostos sobre moradia",
	"17050000": "Móveis e eletrodomésticos",
	"18000000": "Saúde",
	"18010000": "Dentista",
	"18020000": "Farmácia",
	"18030000": "Ótica",
	"18040000": "Hospitais, clínicas e laboratórios",
	"18050000": "Esportes",
	"19000000": "Transporte",
	"19010000": "Táxi e transporte privado urbano",
	"19020000": "Transporte público",
	"19030000": "Aluguel de veículos",
	"19040000": "Aluguel de bicicletas",
	"19050000": "Serviços automotivos",
	"19050001": "Postos de gasolina",
	"19050002": "Estacionamentos",
	"19050003": "Pedágios e pagamentos no veículo",
	"19050004": "Taxas e impostos sobre veículos",
	"19050005": "Manutenção de veículos",
	"19050006": "Multas de trânsito",
	"20000000": "Seguros",
	"20010000": "Seguro de vida",
	"20020000": "Seguro residencial",
	"20030000": "Seguro saúde",
	"20040000": "Seguro de veículos",
	"21000000": "Lazer",
	"99999996": "Doações e Contribuições",
	"99999997": "Ajuda Familiar",
	"99999998": "Despesa Não Classificada",
	"99999999": "Outros",
}

// Uncategorized is the catch-all code for debits no rule matched.
const Uncategorized = "99999998"

// CodeFor resolves a bank-supplied category, given either as an eight digit code or
// as its display name, to a known code. It returns "" when nothing matches.
func CodeFor(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return ""
	}
	if _, ok := Categories[category]; ok {
		return category
	}
	return byName[strings.ToLower(category)]
}

// byName indexes Categories by lowercased name; on a repeated name the lowest code wins.
var byName = func() map[string]string {
	codes := make([]string, 0, len(Categories))
	for code := range Categories {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	idx := make(map[string]string, len(codes))
	for _, code := range codes {
		key := strings.ToLower(Categories[code])
		if _, ok := idx[key]; !ok {
			idx[key] = code
		}
	}
	return idx
}()

// Name returns the display name of code, or "" when the code is unknown.
func Name(code string) string {
	return Categories[code]
}
