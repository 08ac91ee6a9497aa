package extract

import "testing"

func TestAmount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain", text: "Te han yapeado S/ 25.00 a las 10:30", want: "S/ 25.00"},
		{name: "comma separator", text: "Recibiste S/.12,5 de Maria", want: "S/ 12.5"},
		{name: "dot prefix", text: "Pago por s. 100", want: "S/ 100"},
		{name: "no space after prefix", text: "s/12.50", want: "S/ 12.50"},
		{name: "first match wins", text: "S/ 5 luego S/ 9", want: "S/ 5"},
		{name: "uppercase", text: "S/ 7,25 recibido", want: "S/ 7.25"},
		{name: "no amount", text: "sin monto aqui", want: ""},
		{name: "bare number", text: "cobro de 45.00 soles", want: ""},
		{name: "empty", text: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Amount(tt.text); got != tt.want {
				t.Fatalf("Amount(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "padded", text: "llegó a las 14:05 de hoy", want: "14:05"},
		{name: "single digit hour", text: "a las 9:30", want: "9:30"},
		{name: "midnight", text: "00:00 en punto", want: "00:00"},
		{name: "invalid hour", text: "25:99", want: ""},
		{name: "invalid minute", text: "12:75", want: ""},
		{name: "first match wins", text: "10:30 y luego 11:45", want: "10:30"},
		{name: "no time", text: "sin hora", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Time(tt.text); got != tt.want {
				t.Fatalf("Time(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestRelevant(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     bool
	}{
		{name: "keyword", text: "Te han yapeado por tu pedido", want: true},
		{name: "keyword case insensitive", text: "RECIBISTE DINERO de Juan", want: true},
		{name: "amount without keyword", text: "transferencia de S/ 30", want: true},
		{name: "neither", text: "tu paquete fue entregado", want: false},
		{name: "custom keywords", text: "plin recibido", keywords: []string{"plin"}, want: true},
		{name: "custom keywords miss builtin", text: "yape recibido", keywords: []string{"plin"}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Relevant(tt.text, tt.keywords); got != tt.want {
				t.Fatalf("Relevant(%q, %v) = %v, want %v", tt.text, tt.keywords, got, tt.want)
			}
		})
	}
}
