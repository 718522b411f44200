package service

import "persona-eval/internal/domain"

// forwardScores es la escala fija del inventario.
var forwardScores = map[domain.Choice]float64{
	domain.ChoiceA: 5,
	domain.ChoiceB: 4,
	domain.ChoiceC: 3,
	domain.ChoiceD: 2,
	domain.ChoiceE: 1,
}

// ScoreItem devuelve el puntaje de una opcion; invertido (6 - x) cuando key != 1.
// ok es false para UNK o cualquier opcion fuera de A..E.
func ScoreItem(choice domain.Choice, key int) (float64, bool) {
	score, ok := forwardScores[domain.NormalizeChoice(string(choice))]
	if !ok {
		return 0, false
	}
	if key != 1 {
		score = 6 - score
	}
	return score, true
}

// ScoreResult puntua un resultado del runner. Los rasgos fuera de O C E A N no puntuan.
func ScoreResult(r domain.AssessmentResult) (domain.TraitCode, float64, bool) {
	code := r.LabelOcean
	if !code.Valid() {
		return code, 0, false
	}
	score, ok := ScoreItem(r.ParsedChoice, r.Key)
	return code, score, ok
}
