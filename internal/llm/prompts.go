package llm

import (
	"fmt"
	"strings"

	"github.com/lunalabs/luna-relay/pkg/types"
)

// CharacterPrompt is the toy's voice. Reply generation always leads with it;
// knowledge context is appended per child when the graph has anything useful.
const CharacterPrompt = "You are Luna, a magical friendly companion who loves kids! " +
	"You're playful, curious, and encouraging. Use simple language. Keep your " +
	"responses short and conversational. Your aim is to be a friendly companion " +
	"for kids, improving their creative and educational abilities while " +
	"increasing their curiosity. Keep your answers under 100 words. No " +
	"formatting, no emojis, just a simple answer from Luna's perspective."

// maxExtractionMessages caps how much transcript is sent for extraction.
// Conversations can run long; the first 30 messages carry most of the signal
// and bound the token cost.
const maxExtractionMessages = 30

// ExtractionPrompt renders the knowledge extraction prompt for one finished
// conversation. The taxonomy is closed: the LLM must classify into the fixed
// category/subcategory lists, score confidence, and return strict JSON.
func ExtractionPrompt(messages []types.Message, ageLevel string) string {
	if len(messages) > maxExtractionMessages {
		messages = messages[:maxExtractionMessages]
	}
	var transcript strings.Builder
	for _, msg := range messages {
		transcript.WriteString(msg.Sender)
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}

	return fmt.Sprintf(`Analyze this conversation between a child (age level: %s) and Luna (AI companion). Extract structured knowledge to build the child's learning profile.

CONVERSATION:
%s
TASK:
Extract entities with rich developmental and emotional context:

1. TOPICS - Subjects discussed
2. SKILLS - Abilities demonstrated & developmental milestones
3. INTERESTS - Enthusiasms & engagement patterns
4. CONCEPTS - Abstract understanding & cognitive development
5. PERSONALITY_TRAITS - Character attributes & emotional intelligence

TAXONOMY GUIDELINES:

TOPICS - Use these categories/subcategories:
- science_nature: prehistoric_animals, astronomy, biology, physics_chemistry, earth_science
- mathematics: numbers_counting, geometry, measurement, arithmetic
- language_literacy: reading, writing, vocabulary, storytelling
- arts_creativity: visual_arts, music, drama_performance, creative_expression
- social_emotional: emotions, relationships, empathy, conflict_resolution
- everyday_life: routines, safety, health, environment

SKILLS - Use these categories/subcategories:
- cognitive: memory, attention, reasoning, planning, categorization
- language_communication: expressive_language, receptive_language, conversation, pronunciation
- literacy_numeracy: counting, number_sense, phonics, reading_comprehension, writing
- social_emotional: emotion_recognition, emotion_regulation, empathy, cooperation, conflict_resolution
- creative_thinking: imagination, storytelling, creative_problem_solving, artistic_expression
- executive_function: working_memory, inhibitory_control, cognitive_flexibility, task_initiation

INTERESTS - Use these categories/subcategories:
- science_exploration: animals, space, nature, experiments
- creative: storytelling, art, music, pretend_play
- physical_active: sports, outdoor_play, dance_movement
- intellectual: puzzles, reading_books, numbers_patterns, questions_learning
- social_interactive: friendship, helping_caring, family
- fantasy_imagination: magical_themes, adventure, characters

CONCEPTS - Use these categories/subcategories:
- cognitive_development: cause_effect, classification, conservation, reversibility, seriation
- time_sequence: temporal_concepts, sequence, duration, daily_cycles
- spatial_reasoning: position, direction, size_comparison, perspective
- social_emotional_concepts: emotions, empathy, fairness, friendship, identity
- abstract_thinking: symbolism, analogy, hypothetical_thinking, metacognition
- moral_reasoning: right_wrong, kindness, responsibility, honesty

PERSONALITY_TRAITS - Use these categories/subcategories:
- emotional_intelligence: self_awareness, self_regulation, empathy, social_awareness
- cognitive_traits: curiosity, persistence, attention_focus, creativity, analytical_thinking
- social_behavioral: cooperation, independence, leadership, shyness_confidence, assertiveness
- temperament: energy_level, adaptability, sensitivity, mood
- learning_style: verbal_learner, visual_learner, kinesthetic_learner, social_learner, independent_learner

EXTRACTION RULES:
- Only extract if clearly evident in conversation
- Include confidence score (0.0-1.0, minimum 0.7 to extract)
- Identify developmental milestones when demonstrated
- Note emotional moments (excitement, frustration, joy, etc.)
- Track question patterns (what, why, how questions)
- Identify creative/imaginative elements

OUTPUT FORMAT (strict JSON):
{
  "topics": [{"name": "Dinosaurs", "category": "science_nature", "subcategory": "prehistoric_animals", "knowledge_level": "intermediate", "question_types": ["what", "why"], "vocabulary_growth": ["carnivore", "extinction"], "confidence": 0.9, "evidence": "Asked detailed questions about T-Rex diet and habitat"}],
  "skills": [{"name": "Counting to 20", "skill_category": "literacy_numeracy", "skill_subcategory": "counting", "developmental_stage": "early_elementary", "mastery_level": "developing", "progression_rate": "steady", "confidence": 0.85, "evidence": "Counted 1-20 correctly with one prompt", "milestone": "Counts to 20 (age 5 milestone)"}],
  "interests": [{"name": "Dinosaurs", "interest_category": "science_exploration", "interest_subcategory": "animals", "engagement_level": 0.95, "initiation_frequency": 0.9, "persistence_level": 0.9, "emotional_connection": "highly_positive", "confidence": 0.9, "evidence": "Very excited, asked many follow-up questions"}],
  "concepts": [{"name": "Extinction", "concept_category": "cognitive_development", "concept_subcategory": "cause_effect", "abstraction_level": "semi_abstract", "understanding_level": 0.7, "cognitive_markers": {"reasoning": "developing", "memory": "strong"}, "confidence": 0.8, "evidence": "Understood that dinosaurs lived long ago and are gone now"}],
  "personality_traits": [{"name": "Curious", "trait_category": "cognitive_traits", "trait_subcategory": "curiosity", "intensity": 0.85, "consistency": 0.9, "development_trend": "growing", "confidence": 0.85, "evidence": "Asked many why and how questions"}],
  "developmental_milestones": [{"milestone": "Understands concept of time (past vs present)", "domain": "cognitive", "age_appropriate": "5-6 years", "evidence": "Understood dinosaurs lived a long time ago", "confidence": 0.8}],
  "emotional_moments": [{"emotion": "excitement", "intensity": 0.9, "trigger": "Learning T-Rex was biggest carnivore", "evidence": "Voice got louder, asked rapid questions"}],
  "creative_elements": [{"type": "imaginative_play", "description": "Pretended to be a dinosaur", "themes": ["adventure", "animals"], "creativity_level": 0.8, "evidence": "Made dinosaur sounds and movements"}],
  "relationships": [{"sourceEntity": "Dinosaurs", "sourceType": "topic", "targetEntity": "Extinction", "targetType": "concept", "relationType": "learning_pathway", "confidence": 0.85, "evidence": "Child learned about extinction through dinosaur discussion", "attributes": {"prerequisite": false, "difficulty": "medium"}}]
}

RELATIONSHIP EXTRACTION GUIDELINES:

Extract THREE types of relationships between entities:

1. TEMPORAL_COOCCURRENCE - Entities discussed together in conversation
   - Indicates related concepts the child connects mentally
   - Attributes: {"cooccurrenceFrequency": 0.0-1.0, "timeProximity": 0.0-1.0}

2. LEARNING_PATHWAY - Learning progressions and concept relationships
   - One concept leads to understanding another; prerequisite knowledge
   - Attributes: {"prerequisite": true/false, "difficulty": "easy"|"medium"|"hard", "masteryRequired": 0.0-1.0}

3. EMOTIONAL_ASSOCIATION - Strong emotions connected to topics/interests
   - Attributes: {"emotion": "excitement"|"joy"|"curiosity"|"frustration"|"pride", "intensity": 0.0-1.0, "valence": "positive"|"negative"|"neutral"}

RELATIONSHIP RULES:
- Only extract relationships with confidence >= 0.7
- Provide specific evidence from the conversation (max 200 chars)
- sourceType/targetType must be one of: topic, skill, interest, concept, personality_trait
- Ensure sourceEntity and targetEntity match entity names in the arrays above
- Temporal cooccurrence relationships are bidirectional (order doesn't matter)
- Learning pathway relationships are directional (source enables/leads to target)
- Emotional associations link emotions to topics/interests

RESPOND ONLY WITH VALID JSON. NO EXPLANATIONS.`, ageLevel, transcript.String())
}
